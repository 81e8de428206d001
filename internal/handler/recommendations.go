package handler

import (
	"net/http"

	"github.com/vitalink/chatsync/internal/llm"
)

// RecommendationHandler serves the daily health recommendations.
type RecommendationHandler struct {
	client *llm.RecommendationClient
}

// NewRecommendationHandler creates a new recommendation handler.
func NewRecommendationHandler(client *llm.RecommendationClient) *RecommendationHandler {
	return &RecommendationHandler{client: client}
}

// List handles GET /api/v1/recommendations. The fetch never fails; the
// client falls back to a default payload.
func (h *RecommendationHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": h.client.Fetch(r.Context()),
	})
}
