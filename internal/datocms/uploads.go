package datocms

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"assetopt/internal/services"
)

// Candidates lazily pages through image uploads whose size is at least
// minSize bytes, filtered server-side. The sequence stops at the first empty
// page or once the offset reaches the server's total_count. A fetch failure is
// yielded once, marked ErrCatalogFetch, and ends the sequence.
func (c *Client) Candidates(ctx context.Context, minSize int64) iter.Seq2[Asset, error] {
	return func(yield func(Asset, error) bool) {
		offset := 0
		for {
			page, err := c.listUploads(ctx, minSize, offset, c.pageSize)
			if err != nil {
				yield(Asset{}, err)
				return
			}
			if len(page.Data) == 0 {
				return
			}
			for _, resource := range page.Data {
				if !yield(resource.toAsset(c.locale), nil) {
					return
				}
			}
			offset += len(page.Data)
			if page.Meta.TotalCount > 0 && int64(offset) >= page.Meta.TotalCount {
				return
			}
		}
	}
}

// CountCandidates returns the total_count the server reports for the candidate
// filter. It may disagree with the number of records Candidates yields.
func (c *Client) CountCandidates(ctx context.Context, minSize int64) (int64, error) {
	page, err := c.listUploads(ctx, minSize, 0, 1)
	if err != nil {
		return 0, err
	}
	return page.Meta.TotalCount, nil
}

// GetUpload fetches a single upload record.
func (c *Client) GetUpload(ctx context.Context, id string) (*Asset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, services.Wrap(services.ErrConfiguration, "datocms", "get upload", "asset id required", nil)
	}
	req, err := c.newCMARequest(ctx, http.MethodGet, "/uploads/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var envelope uploadEnvelope
	if err := c.doCMA(req, &envelope); err != nil {
		return nil, fmt.Errorf("get upload %s: %w", id, err)
	}
	asset := envelope.Data.toAsset(c.locale)
	return &asset, nil
}

func (c *Client) listUploads(ctx context.Context, minSize int64, offset, limit int) (*uploadsPage, error) {
	params := url.Values{}
	params.Set("filter[fields][type][eq]", "image")
	params.Set("filter[fields][size][gte]", strconv.FormatInt(minSize, 10))
	params.Set("page[offset]", strconv.Itoa(offset))
	params.Set("page[limit]", strconv.Itoa(limit))

	req, err := c.newCMARequest(ctx, http.MethodGet, "/uploads?"+params.Encode(), nil)
	if err != nil {
		return nil, services.Wrap(services.ErrCatalogFetch, "datocms", "list uploads", "", err)
	}
	var page uploadsPage
	if err := c.doCMA(req, &page); err != nil {
		return nil, services.Wrap(services.ErrCatalogFetch, "datocms", "list uploads", fmt.Sprintf("offset %d", offset), err)
	}
	return &page, nil
}
