package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vitalink/chatsync/pkg/logger"
)

// Recommendation is one health-tip entry from the prediction service.
type Recommendation struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// RecommendationClient fetches daily recommendations with a fixed-delay
// retry. When every attempt fails it returns a default payload rather
// than failing the caller.
type RecommendationClient struct {
	httpClient *http.Client
	url        string
	retryDelay time.Duration
	maxRetries uint64
	logger     *logger.Logger
}

// NewRecommendationClient creates a recommendation fetcher against the
// given endpoint.
func NewRecommendationClient(url string, log *logger.Logger) *RecommendationClient {
	return &RecommendationClient{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		url:        url,
		retryDelay: time.Second,
		maxRetries: 2,
		logger:     log,
	}
}

// DefaultRecommendations is the fallback payload when the service is
// unreachable.
func DefaultRecommendations() []Recommendation {
	return []Recommendation{
		{Title: "Stay hydrated", Body: "Aim for around 8 glasses of water spread through the day."},
		{Title: "Move a little", Body: "A 20 minute walk counts. Consistency beats intensity."},
		{Title: "Sleep on schedule", Body: "Going to bed at the same time helps more than sleeping in."},
	}
}

// Fetch returns the current recommendations, retrying with a fixed delay
// and falling back to defaults after the last attempt.
func (c *RecommendationClient) Fetch(ctx context.Context) []Recommendation {
	var recs []Recommendation

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("recommendation service returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&recs)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), c.maxRetries),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		c.logger.Warn("recommendation fetch failed, using defaults", zap.Error(err))
		return DefaultRecommendations()
	}
	return recs
}
