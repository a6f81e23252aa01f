package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"RatingWatch/internal/analytics"
	"RatingWatch/internal/config"
	"RatingWatch/internal/model"
	"RatingWatch/internal/monitor"
	"RatingWatch/internal/store"
)

// Server exposes the monitor's run state and the store's query surface
// over HTTP.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	service *monitor.Service
}

// NewServer creates the HTTP layer around a store and a monitor service.
func NewServer(cfg *config.Config, st *store.Store, svc *monitor.Service) *Server {
	return &Server{cfg: cfg, store: st, service: svc}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/rating_changes", s.handleRatingChanges)
		r.Get("/symbol/{symbol}/history", s.handleSymbolHistory)
		r.Post("/trigger", s.handleTrigger)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.service.State()
	stateDict := state.ToDict()

	latest, err := s.store.MostRecentSnapshotTime()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	status := "ok"
	if state.LastError != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"is_running":       s.service.IsRunning(),
		"interval_seconds": s.cfg.Monitor.IntervalSeconds,
		"range": map[string]int{
			"start": s.cfg.Monitor.RangeStart,
			"end":   s.cfg.Monitor.RangeEnd,
		},
		"state":           stateDict,
		"latest_snapshot": emptyToNil(latest),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.service.State()
	writeJSON(w, http.StatusOK, state.ToDict())
}

func (s *Server) handleRatingChanges(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	total, items, err := s.store.FetchRatingChanges(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleSymbolHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	limit := queryInt(r, "limit", 200, 1, 2000)

	start, err := parseBound(r.URL.Query().Get("start"), "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	end, err := parseBound(r.URL.Query().Get("end"), "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rows, err := s.store.FetchSymbolHistory(symbol, limit, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	analytics.AnnotateRatingScores(rows)

	latest, err := s.store.GetLatestSnapshot(symbol)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("symbol not found"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"items":   rows,
		"limit":   limit,
		"metrics": analytics.ComputeHistoryMetrics(rows),
		"profile": analytics.BuildSymbolProfile(symbol, latest),
		"latest": map[string]any{
			"retrieved_at":   latest["retrieved_at"],
			"price":          latest["price"],
			"analyst_rating": latest["analyst_rating"],
		},
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	changes := s.service.TriggerOnce()
	items := make([]map[string]any, 0, len(changes))
	for i := range changes {
		items = append(items, changes[i].ToDict())
	}
	state := s.service.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"changes": items,
		"state":   state.ToDict(),
	})
}

// boundLayouts are the accepted shapes for start/end query bounds.
var boundLayouts = []string{
	model.TimeLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseBound validates an optional ISO timestamp and reformats it into
// the persisted layout so string comparison in SQL works.
func parseBound(value, name string) (string, error) {
	if value == "" {
		return "", nil
	}
	for _, layout := range boundLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return model.FormatTime(t), nil
		}
	}
	return "", fmt.Errorf("invalid %s value", name)
}

func queryInt(r *http.Request, name string, def, min, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[ERROR] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
