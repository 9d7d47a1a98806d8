package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/crmai/internal/storage"
)

// HistoryStore reads past chat interactions and training runs.
type HistoryStore interface {
	RecentInteractions(limit int) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
	RecentTrainingRuns(limit int) ([]storage.TrainingRun, error)
}

type interactionView struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	Question  string `json:"question"`
	Model     string `json:"model"`
	Response  string `json:"response"`
	Status    string `json:"status"`
	Prompt    string `json:"prompt,omitempty"`
}

type trainingRunView struct {
	ID            string `json:"id"`
	CreatedAt     string `json:"created_at"`
	Source        string `json:"source"`
	ContractsUsed int    `json:"contracts_used"`
	Positives     int    `json:"positives"`
	Trained       bool   `json:"trained"`
	Error         string `json:"error,omitempty"`
}

func mountHistory(r chi.Router, store HistoryStore) {
	r.Get("/interactions", handleListInteractions(store))
	r.Get("/interactions/{id}", handleGetInteraction(store))
	r.Get("/training-runs", handleListTrainingRuns(store))
}

func handleListInteractions(store HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := store.RecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list interactions: %v", err)
			return
		}

		out := make([]interactionView, len(interactions))
		for i, it := range interactions {
			out[i] = toInteractionView(it, false)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetInteraction(store HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toInteractionView(interaction, true))
	}
}

func handleListTrainingRuns(store HistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		runs, err := store.RecentTrainingRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "failed to list training runs: %v", err)
			return
		}

		out := make([]trainingRunView, len(runs))
		for i, run := range runs {
			out[i] = toTrainingRunView(run)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func toInteractionView(i storage.Interaction, withPrompt bool) interactionView {
	v := interactionView{
		ID:        i.ID,
		CreatedAt: i.CreatedAt.UTC().Format(timeFormat),
		Question:  i.Question,
		Model:     i.Model,
		Response:  i.Response,
		Status:    i.Status,
	}
	if withPrompt {
		v.Prompt = i.Prompt
	}
	return v
}

func toTrainingRunView(r storage.TrainingRun) trainingRunView {
	return trainingRunView{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt.UTC().Format(timeFormat),
		Source:        r.Source,
		ContractsUsed: r.ContractsUsed,
		Positives:     r.Positives,
		Trained:       r.Trained,
		Error:         r.Error,
	}
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
