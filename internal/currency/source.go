package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// RateSource looks up how many units of code buy one unit of base.
type RateSource interface {
	Rate(ctx context.Context, base, code string) (float64, error)
}

// HTTPSource queries an exchangerate.host compatible endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

type latestResponse struct {
	Rates map[string]float64 `json:"rates"`
}

func (s *HTTPSource) Rate(ctx context.Context, base, code string) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	q := url.Values{}
	q.Set("base", base)
	q.Set("symbols", code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/latest?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "receiptsplit/1.0 (+https://github.com/susu3304/receiptsplit)")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rate API returned status %d", resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("malformed rate response: %w", err)
	}
	v, ok := body.Rates[code]
	if !ok {
		return 0, fmt.Errorf("rate for %s missing in response", code)
	}
	return v, nil
}
