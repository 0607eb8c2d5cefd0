package datocms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"assetopt/internal/services"
)

type uploadRequestBody struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Filename string `json:"filename"`
		} `json:"attributes"`
	} `json:"data"`
}

type uploadSlot struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL            string            `json:"url"`
			RequestHeaders map[string]string `json:"request_headers"`
		} `json:"attributes"`
	} `json:"data"`
}

type commitBody struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Path string `json:"path"`
		} `json:"attributes"`
	} `json:"data"`
}

type commitResponse struct {
	Data struct {
		ID         string          `json:"id"`
		Type       string          `json:"type"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

// ReplaceFromURL swaps the stored binary of assetID for the image at sourceURL
// while keeping the asset's identity. The steps run strictly in order: upload
// slot, source fetch, storage PUT, metadata commit, then job polling when the
// commit is asynchronous. Every failure is tagged with the marker of the step
// that failed; nothing is retried here.
func (c *Client) ReplaceFromURL(ctx context.Context, assetID, sourceURL, filename string) (*Asset, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "datocms", "replace asset", "asset id required", nil)
	}
	if strings.TrimSpace(sourceURL) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "datocms", "replace asset", "source url required", nil)
	}
	if strings.TrimSpace(filename) == "" {
		filename = defaultFilename
	}

	slot, err := c.requestUploadSlot(ctx, filename)
	if err != nil {
		return nil, err
	}

	data, err := c.fetchSource(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	if err := c.putObject(ctx, slot, data); err != nil {
		return nil, err
	}

	return c.commitUpload(ctx, assetID, slot.Data.ID)
}

func (c *Client) requestUploadSlot(ctx context.Context, filename string) (*uploadSlot, error) {
	var body uploadRequestBody
	body.Data.Type = "upload_request"
	body.Data.Attributes.Filename = filename

	req, err := c.newCMARequest(ctx, http.MethodPost, "/upload-requests", body)
	if err != nil {
		return nil, services.Wrap(services.ErrUploadSlot, "datocms", "request upload slot", "", err)
	}
	var slot uploadSlot
	if err := c.doCMA(req, &slot); err != nil {
		return nil, services.Wrap(services.ErrUploadSlot, "datocms", "request upload slot", filename, err)
	}
	if slot.Data.ID == "" || slot.Data.Attributes.URL == "" {
		return nil, services.Wrap(services.ErrUploadSlot, "datocms", "request upload slot", "response missing path or url", nil)
	}
	return &slot, nil
}

func (c *Client) fetchSource(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceFetch, "datocms", "fetch source", "build request", err)
	}
	resp, _, err := c.do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceFetch, "datocms", "fetch source", redactURL(sourceURL), err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, services.Wrap(services.ErrSourceFetch, "datocms", "fetch source", redactURL(sourceURL), err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrSourceFetch, "datocms", "fetch source", "read body", err)
	}
	return data, nil
}

// putObject writes data to the pre-signed storage URL. Only the headers the
// slot returned are sent, plus an explicit Content-Length.
func (c *Client) putObject(ctx context.Context, slot *uploadSlot, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.Data.Attributes.URL, bytes.NewReader(data))
	if err != nil {
		return services.Wrap(services.ErrStorageWrite, "datocms", "put object", "build request", err)
	}
	for key, value := range slot.Data.Attributes.RequestHeaders {
		req.Header.Set(key, value)
	}
	req.ContentLength = int64(len(data))

	resp, latency, err := c.do(req)
	if err != nil {
		return services.Wrap(services.ErrStorageWrite, "datocms", "put object", "", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return services.Wrap(services.ErrStorageWrite, "datocms", "put object", fmt.Sprintf("latency=%v", latency), err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) commitUpload(ctx context.Context, assetID, path string) (*Asset, error) {
	var body commitBody
	body.Data.ID = assetID
	body.Data.Type = "upload"
	body.Data.Attributes.Path = path

	req, err := c.newCMARequest(ctx, http.MethodPut, "/uploads/"+url.PathEscape(assetID), body)
	if err != nil {
		return nil, services.Wrap(services.ErrMetadataCommit, "datocms", "commit upload", "", err)
	}
	var resp commitResponse
	if err := c.doCMA(req, &resp); err != nil {
		return nil, services.Wrap(services.ErrMetadataCommit, "datocms", "commit upload", assetID, err)
	}

	if resp.Data.Type == "job" {
		resource, err := c.awaitJob(ctx, resp.Data.ID)
		if err != nil {
			return nil, err
		}
		asset := resource.toAsset(c.locale)
		return &asset, nil
	}

	resource := uploadResource{ID: resp.Data.ID, Type: resp.Data.Type}
	if len(resp.Data.Attributes) > 0 {
		if err := json.Unmarshal(resp.Data.Attributes, &resource.Attributes); err != nil {
			return nil, services.Wrap(services.ErrMetadataCommit, "datocms", "commit upload", "decode upload", err)
		}
	}
	asset := resource.toAsset(c.locale)
	return &asset, nil
}

// redactURL drops query strings, which may carry signatures, from error text.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "source url"
	}
	parsed.RawQuery = ""
	return parsed.String()
}
