package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Simplici0/engineroom/internal/export"
	"github.com/Simplici0/engineroom/internal/logger"
	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/rules"
	"github.com/Simplici0/engineroom/internal/service"
	"github.com/Simplici0/engineroom/internal/simulation"
	"github.com/Simplici0/engineroom/internal/store"
)

const requestIDHeader = "X-Request-ID"

type server struct {
	store *store.Store
	sim   *service.Simulator
	log   logger.Logger
}

func newServer(st *store.Store, sim *service.Simulator, log logger.Logger) *server {
	return &server{store: st, sim: sim, log: log}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Get("/items", s.handleItemsList)
	r.Put("/items", s.handleItemsUpsert)

	r.Get("/rules", s.handleRulesActive)
	r.Put("/rules", s.handleRulesSave)
	r.Get("/rules/defaults", s.handleRulesDefaults)
	r.Get("/rules/versions", s.handleRulesVersions)

	r.Post("/evaluate", s.handleEvaluate)

	r.Post("/simulations", s.handleSimulationCreate)
	r.Get("/simulations", s.handleSimulationsList)
	r.Get("/simulations/{id}", s.handleSimulationDetail)
	r.Get("/simulations/{id}/export.csv", s.handleSimulationExport)

	return r
}

// requestLogger tags the request context with an id and logs one line per
// request once it completes.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		s.log.Infof(ctx, "%s %s %d %dB %s", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Microsecond))
	})
}

type itemPayload struct {
	ID               string             `json:"id" validate:"required"`
	Description      string             `json:"description"`
	AverageCost      float64            `json:"averageCost" validate:"gte=0"`
	MarketLow        float64            `json:"marketLow" validate:"gte=0"`
	TrueMarketLow    float64            `json:"trueMarketLow" validate:"gte=0"`
	CompetitorPrices map[string]float64 `json:"competitorPrices" validate:"omitempty,dive,gte=0"`
	NoMarketPrice    bool               `json:"noMarketPrice"`
	CurrentPrice     float64            `json:"currentPrice" validate:"gte=0"`
	Usage            float64            `json:"usage" validate:"gte=0"`
	UsageRank        int                `json:"usageRank" validate:"min=1,max=6"`
	NextCost         float64            `json:"nextCost" validate:"gte=0"`
}

func (p itemPayload) item() pricing.Item {
	return pricing.Item{
		ID:               p.ID,
		Description:      p.Description,
		AverageCost:      p.AverageCost,
		MarketLow:        p.MarketLow,
		TrueMarketLow:    p.TrueMarketLow,
		CompetitorPrices: p.CompetitorPrices,
		NoMarketPrice:    p.NoMarketPrice,
		CurrentPrice:     p.CurrentPrice,
		Usage:            p.Usage,
		UsageRank:        p.UsageRank,
		NextCost:         p.NextCost,
	}
}

type putItemsRequest struct {
	Items []itemPayload `json:"items" validate:"required,min=1,dive"`
}

type saveRulesRequest struct {
	Note   string          `json:"note" validate:"max=200"`
	Config json.RawMessage `json:"config" validate:"required"`
}

type evaluateRequest struct {
	Item   *pricing.Item   `json:"item" validate:"required"`
	Config json.RawMessage `json:"config"`
}

type simulationRequest struct {
	Granularity  string          `json:"granularity" validate:"omitempty,oneof=bucket rank"`
	Config       json.RawMessage `json:"config"`
	Items        []pricing.Item  `json:"items"`
	IncludeItems bool            `json:"includeItems"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"status": "ok",
		"stats":  s.sim.Stats(),
	})
}

func (s *server) handleItemsList(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, items)
}

func (s *server) handleItemsUpsert(w http.ResponseWriter, r *http.Request) {
	var req putItemsRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]pricing.Item, 0, len(req.Items))
	for _, p := range req.Items {
		it := p.item()
		if err := it.Validate(); err != nil {
			s.writeError(w, r, err)
			return
		}
		items = append(items, it)
	}

	n, err := s.store.UpsertItems(r.Context(), items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]int{"written": n})
}

func (s *server) handleRulesActive(w http.ResponseWriter, r *http.Request) {
	active, err := s.sim.ActiveConfig(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, active)
}

func (s *server) handleRulesSave(w http.ResponseWriter, r *http.Request) {
	var req saveRulesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg, err := rules.Parse(req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	saved, err := s.sim.SaveConfig(r.Context(), cfg, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, saved)
}

func (s *server) handleRulesDefaults(w http.ResponseWriter, r *http.Request) {
	writeOK(w, rules.Default())
}

func (s *server) handleRulesVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.store.ListRuleVersions(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, versions)
}

func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	cfg, err := optionalConfig(req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.sim.Evaluate(r.Context(), *req.Item, cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, result)
}

func (s *server) handleSimulationCreate(w http.ResponseWriter, r *http.Request) {
	var req simulationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	granularity, err := simulation.ParseGranularity(req.Granularity)
	if err != nil {
		s.writeError(w, r, errBadRequest(err.Error()))
		return
	}
	cfg, err := optionalConfig(req.Config)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	run, err := s.sim.Simulate(r.Context(), service.Request{
		Config:      cfg,
		Items:       req.Items,
		Granularity: granularity,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !req.IncludeItems {
		run.Result.ItemResults = nil
	}
	writeOK(w, run)
}

func (s *server) handleSimulationsList(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, runs)
}

func (s *server) handleSimulationDetail(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("items") == "false" {
		run.Result.ItemResults = nil
	}
	writeOK(w, run)
}

func (s *server) handleSimulationExport(w http.ResponseWriter, r *http.Request) {
	filter, err := export.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		s.writeError(w, r, errBadRequest(err.Error()))
		return
	}

	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="simulation-%s.csv"`, run.ID))
	if _, err := export.WriteCSV(w, run.Result.ItemResults, filter); err != nil {
		// Headers are already sent.
		s.log.Errorf(r.Context(), "export run %s: %v", run.ID, err)
	}
}

func optionalConfig(raw json.RawMessage) (*rules.Config, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	cfg, err := rules.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	return min(limit, 500)
}
