package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

// HTTPRegistry reads locations from the hub registry service:
//
//	GET {base}/locations/{id}           -> Location
//	GET {base}/locations/{id}/children  -> []Location
type HTTPRegistry struct {
	client *resty.Client
}

type apiError struct {
	Message string `json:"message"`
}

func NewHTTPRegistry(baseURL string, timeout time.Duration) *HTTPRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(50 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &HTTPRegistry{client: client}
}

// GetLocation returns nil, nil when the registry does not know id.
func (r *HTTPRegistry) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	loc := new(domain.Location)
	found, err := r.get(ctx, "/locations/"+url.PathEscape(id), loc)
	if err != nil || !found {
		return nil, err
	}
	return loc, nil
}

func (r *HTTPRegistry) ListChildren(ctx context.Context, parentID string) ([]domain.Location, error) {
	var children []domain.Location
	if _, err := r.get(ctx, "/locations/"+url.PathEscape(parentID)+"/children", &children); err != nil {
		return nil, err
	}
	return children, nil
}

func (r *HTTPRegistry) get(ctx context.Context, path string, result any) (bool, error) {
	apiErr := new(apiError)
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr).
		Get(path)
	if err != nil {
		return false, fmt.Errorf("location registry %s: %w", path, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.StatusCode() >= http.StatusBadRequest:
		return false, fmt.Errorf("location registry %s: status=%d, message=%s", path, resp.StatusCode(), apiErr.Message)
	}
	return true, nil
}
