package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kalambet/crmai/internal/chat"
	"github.com/kalambet/crmai/internal/metrics"
	"github.com/kalambet/crmai/internal/prediction"
	"github.com/kalambet/crmai/internal/renewal"
	"github.com/kalambet/crmai/internal/snapshot"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Backend status labels reported by /test-backend.
const (
	BackendConnected = "connected"
	BackendError     = "error"
)

// Chatter answers CRM questions.
type Chatter interface {
	Answer(ctx context.Context, question string) chat.Reply
	Model() string
}

// Predictor serves renewal predictions and retraining.
type Predictor interface {
	Predict(ctx context.Context, contractID int64) (renewal.Result, error)
	Train(ctx context.Context, source string) (prediction.TrainStatus, error)
	Status() renewal.Status
}

// Prober reads every upstream domain for diagnostics.
type Prober interface {
	FetchReport(ctx context.Context) snapshot.Report
}

type Deps struct {
	Chat        Chatter
	Predictor   Predictor
	Prober      Prober
	History     HistoryStore // optional; history routes return 404 when nil
	Token       string       // optional bearer token for data routes
	CORSOrigins []string
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type predictRequest struct {
	ContractID *int64 `json:"contract_id"`
}

// NewHandler returns the HTTP API: the CRM assistant routes plus health,
// metrics and history endpoints.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", handleRoot(deps))
	r.Get("/health", handleHealth)
	r.Get("/test-backend", handleTestBackend(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/chat", handleChat(deps))
		r.Post("/predict-renewal", handlePredict(deps))
		r.Post("/train", handleTrain(deps))
		r.Get("/model", handleModelStatus(deps))
		if deps.History != nil {
			mountHistory(r, deps.History)
		}
	})

	return r
}

func handleRoot(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "CRM assistant active",
			"model":  "Ollama " + deps.Chat.Model(),
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "message is required")
			return
		}

		reply := deps.Chat.Answer(r.Context(), req.Message)
		writeJSON(w, http.StatusOK, chatResponse{Response: reply.Text})
	}
}

func handlePredict(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.ContractID == nil {
			httpError(w, http.StatusBadRequest, "contract_id is required")
			return
		}

		res, err := deps.Predictor.Predict(r.Context(), *req.ContractID)
		if err != nil {
			slog.Error("prediction failed", "contract_id", *req.ContractID, "error", err)
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleTrain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Predictor.Train(r.Context(), prediction.SourceAPI)
		if err != nil {
			slog.Error("training failed", "error", err)
			httpError(w, http.StatusInternalServerError, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleModelStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Predictor.Status())
	}
}

// BackendCheck is the /test-backend response.
type BackendCheck struct {
	BackendStatus  string            `json:"backend_status"`
	ClientsCount   *int              `json:"clients_count,omitempty"`
	ContractsCount *int              `json:"contracts_count,omitempty"`
	Revenue        *float64          `json:"revenue,omitempty"`
	Error          string            `json:"error,omitempty"`
	Errors         map[string]string `json:"errors,omitempty"`
}

// CheckBackend summarises a report. Any failed domain marks the backend as in error.
func CheckBackend(rep snapshot.Report) BackendCheck {
	if errs := rep.Errors(); len(errs) > 0 {
		domains := make([]string, 0, len(errs))
		for d := range errs {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		parts := make([]string, len(domains))
		for i, d := range domains {
			parts[i] = fmt.Sprintf("%s: %s", d, errs[d])
		}
		return BackendCheck{
			BackendStatus: BackendError,
			Error:         strings.Join(parts, "; "),
			Errors:        errs,
		}
	}

	clients := len(rep.Clients.Value)
	contracts := len(rep.Contracts.Value)
	revenue := rep.Stats.Value.Revenue
	return BackendCheck{
		BackendStatus:  BackendConnected,
		ClientsCount:   &clients,
		ContractsCount: &contracts,
		Revenue:        &revenue,
	}
}

func handleTestBackend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, CheckBackend(deps.Prober.FetchReport(r.Context())))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"detail": fmt.Sprintf(format, args...)})
}
