package datocms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"assetopt/internal/services"
)

const jobSucceeded = 200

var errJobPending = errors.New("job still processing")

type jobResult struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes *struct {
			Status  int `json:"status"`
			Payload struct {
				Data uploadResource `json:"data"`
			} `json:"payload"`
		} `json:"attributes"`
	} `json:"data"`
}

// awaitJob polls /job-results/{id} until the job reports success. The first
// poll is immediate; polls are spaced by the configured interval and capped at
// maxAttempts. Anything other than a completed job (404, other statuses,
// transport errors, a body without attributes) counts as still processing.
func (c *Client) awaitJob(ctx context.Context, jobID string) (*uploadResource, error) {
	polls := 0
	operation := func() (*uploadResource, error) {
		polls++
		resource, err := c.pollJob(ctx, jobID)
		if err == nil {
			return resource, nil
		}
		if errors.Is(err, services.ErrJobFailed) {
			return nil, backoff.Permanent(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, backoff.Permanent(ctxErr)
		}
		return nil, err
	}

	resource, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithMaxElapsedTime(time.Duration(c.maxAttempts)*(c.pollInterval+5*time.Minute)),
	)
	if err == nil {
		return resource, nil
	}
	switch {
	case errors.Is(err, services.ErrJobFailed):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, services.Wrap(services.ErrJobTimeout, "datocms", "await job", fmt.Sprintf("job %s interrupted after %d polls", jobID, polls), err)
	default:
		return nil, services.Wrap(services.ErrJobTimeout, "datocms", "await job", fmt.Sprintf("job %s did not complete after %d attempts", jobID, polls), nil)
	}
}

func (c *Client) pollJob(ctx context.Context, jobID string) (*uploadResource, error) {
	req, err := c.newCMARequest(ctx, http.MethodGet, "/job-results/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, _, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errJobPending, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errJobPending, resp.StatusCode)
	}

	var result jobResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", errJobPending, err)
	}
	if result.Data.Attributes == nil {
		return nil, errJobPending
	}
	if status := result.Data.Attributes.Status; status != jobSucceeded {
		return nil, services.Wrap(services.ErrJobFailed, "datocms", "await job",
			fmt.Sprintf("job %s completed with error status %d", jobID, status), nil)
	}
	resource := result.Data.Attributes.Payload.Data
	return &resource, nil
}
