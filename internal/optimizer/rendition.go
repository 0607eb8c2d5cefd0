package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"assetopt/internal/services"
)

// HTTPDoer describes the HTTP client used to fetch renditions.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Rendition is a transformed image fetched from the imgix endpoint.
type Rendition struct {
	Size      int64
	MIME      string
	Extension string
	Width     int
	Height    int
}

// RenditionFetcher downloads and checks transformed renditions.
type RenditionFetcher struct {
	client HTTPDoer
}

// NewRenditionFetcher returns a fetcher; a nil client selects a default with a
// two minute timeout.
func NewRenditionFetcher(client HTTPDoer) *RenditionFetcher {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &RenditionFetcher{client: client}
}

// Types imaging can decode with the registered codecs.
var decodableTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"image/bmp":  {},
	"image/tiff": {},
}

// Fetch downloads the rendition at transformURL and verifies it is an image.
func (f *RenditionFetcher) Fetch(ctx context.Context, transformURL string) (*Rendition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transformURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", "build request", err)
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", fmt.Sprintf("latency=%v", latency), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", "",
			&services.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", "read body", err)
	}

	detected := mimetype.Detect(data)
	mime := strings.ToLower(strings.SplitN(detected.String(), ";", 2)[0])
	if !strings.HasPrefix(mime, "image/") {
		return nil, services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", fmt.Sprintf("response is %s, not an image", mime), nil)
	}

	rendition := &Rendition{
		Size:      int64(len(data)),
		MIME:      mime,
		Extension: strings.TrimPrefix(detected.Extension(), "."),
	}
	if _, ok := decodableTypes[mime]; ok {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, services.Wrap(services.ErrTransformFetch, "optimizer", "fetch rendition", "decode "+mime, err)
		}
		bounds := img.Bounds()
		rendition.Width = bounds.Dx()
		rendition.Height = bounds.Dy()
	}
	return rendition, nil
}
