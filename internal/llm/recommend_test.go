package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vitalink/chatsync/pkg/logger"
)

func testRecommendationClient(url string) *RecommendationClient {
	c := NewRecommendationClient(url, logger.NewNop())
	c.retryDelay = 5 * time.Millisecond
	return c
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"title":"Walk","body":"Take a walk today."}]`))
	}))
	defer srv.Close()

	recs := testRecommendationClient(srv.URL).Fetch(context.Background())
	assert.Equal(t, []Recommendation{{Title: "Walk", Body: "Take a walk today."}}, recs)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"title":"Rest","body":"Get enough sleep."}]`))
	}))
	defer srv.Close()

	recs := testRecommendationClient(srv.URL).Fetch(context.Background())
	assert.Equal(t, []Recommendation{{Title: "Rest", Body: "Get enough sleep."}}, recs)
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchFallsBackToDefaults(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	recs := testRecommendationClient(srv.URL).Fetch(context.Background())
	assert.Equal(t, DefaultRecommendations(), recs)
	// Initial attempt plus two retries.
	assert.EqualValues(t, 3, hits.Load())
}

func TestFetchUnreachableServiceFallsBack(t *testing.T) {
	recs := testRecommendationClient("http://127.0.0.1:1/recommendations").Fetch(context.Background())
	assert.Equal(t, DefaultRecommendations(), recs)
}
