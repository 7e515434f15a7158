package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Simplici0/engineroom/internal/db"
	"github.com/Simplici0/engineroom/internal/logger"
	"github.com/Simplici0/engineroom/internal/migrations"
	"github.com/Simplici0/engineroom/internal/seed"
	"github.com/Simplici0/engineroom/internal/service"
	"github.com/Simplici0/engineroom/internal/store"
)

func newTestServer(t *testing.T, seeded bool) http.Handler {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "server-test.db"))
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := migrations.Up(ctx, database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if seeded {
		if _, err := seed.Run(ctx, database, seed.Config{}); err != nil {
			t.Fatalf("seed database: %v", err)
		}
	}

	st := store.New(database)
	logg := logger.NewNop()
	sim := service.New(st, logg, service.Options{Workers: 2, ChunkSize: 4})
	return newServer(st, sim, logg).routes()
}

type envelope struct {
	Meta meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealthzSetsRequestID(t *testing.T) {
	h := newTestServer(t, false)

	rec, env := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || env.Meta.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected %s header", requestIDHeader)
	}
}

func TestPutItemsValidation(t *testing.T) {
	h := newTestServer(t, false)

	rec, env := do(t, h, http.MethodPut, "/items", `{"items":[{"id":"","averageCost":-1,"usageRank":7}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.Meta.Details) != 3 {
		t.Fatalf("expected 3 validation details, got %+v", env.Meta.Details)
	}

	rec, _ = do(t, h, http.MethodPut, "/items", `{"items":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPut, "/items", `{"items":[{"id":"a","averageCost":10,"marketLow":12,"currentPrice":11,"usage":5,"usageRank":1,"nextCost":9}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec, env = do(t, h, http.MethodGet, "/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(items) != 1 || items[0]["id"] != "a" {
		t.Fatalf("unexpected items: %v", items)
	}
}

func TestPutRulesReportsProblems(t *testing.T) {
	h := newTestServer(t, false)

	body := `{"note":"bad","config":{"rule1":{"group1_2":{"trend_down":1.1,"trend_flat_up":1.1},"group3_4":{"trend_down":1.1,"trend_flat_up":1.1},"group5_6":{"trend_down":1.1,"trend_flat_up":1.1}},"rule2":{"group1_2":{"trend_down":1.1},"group3_4":{"trend_down":1.1,"trend_flat_up":1.1},"group5_6":{"trend_down":1.1,"trend_flat_up":1.1}},"marginCaps":{"group1_2":100}}}`
	rec, env := do(t, h, http.MethodPut, "/rules", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	paths := map[string]bool{}
	for _, d := range env.Meta.Details {
		paths[d.Path] = true
	}
	if !paths["rule2.group1_2.trend_flat_up"] {
		t.Fatalf("missing cell not reported: %+v", env.Meta.Details)
	}
}

func TestPutRulesCreatesVersion(t *testing.T) {
	h := newTestServer(t, true)

	rec, env := do(t, h, http.MethodGet, "/rules/defaults", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("defaults: %d", rec.Code)
	}

	body := `{"note":"copy of defaults","config":` + string(env.Data) + `}`
	rec, env = do(t, h, http.MethodPut, "/rules", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(env.Data, &saved); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2 after seed, got %d", saved.Version)
	}

	_, env = do(t, h, http.MethodGet, "/rules/versions", "")
	var versions []map[string]any
	if err := json.Unmarshal(env.Data, &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	h := newTestServer(t, false)

	rec, env := do(t, h, http.MethodPost, "/evaluate", `{"item":{"id":"a","averageCost":10,"marketLow":12,"currentPrice":11,"usage":5,"usageRank":1,"nextCost":9}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Rule          string  `json:"rule"`
		ProposedPrice float64 `json:"proposedPrice"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Rule != "rule1" || result.ProposedPrice <= 10 {
		t.Fatalf("unexpected evaluation: %+v", result)
	}

	rec, _ = do(t, h, http.MethodPost, "/evaluate", `{"item":{"id":"a","averageCost":10,"usageRank":0}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid item, got %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodPost, "/evaluate", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without item, got %d", rec.Code)
	}
}

func TestSimulationLifecycle(t *testing.T) {
	h := newTestServer(t, true)

	rec, env := do(t, h, http.MethodPost, "/simulations", `{"granularity":"rank"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var run struct {
		ID     string `json:"id"`
		Result struct {
			GroupImpact []json.RawMessage `json:"groupImpact"`
			ItemResults []json.RawMessage `json:"itemResults"`
		} `json:"result"`
	}
	if err := json.Unmarshal(env.Data, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID == "" || len(run.Result.GroupImpact) != 6 || run.Result.ItemResults != nil {
		t.Fatalf("unexpected run: id=%q groups=%d items=%d", run.ID, len(run.Result.GroupImpact), len(run.Result.ItemResults))
	}

	rec, _ = do(t, h, http.MethodPost, "/simulations", `{"granularity":"weekly"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown granularity, got %d", rec.Code)
	}

	_, env = do(t, h, http.MethodGet, "/simulations", "")
	var runs []map[string]any
	if err := json.Unmarshal(env.Data, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0]["id"] != run.ID {
		t.Fatalf("unexpected runs: %v", runs)
	}

	rec, env = do(t, h, http.MethodGet, "/simulations/"+run.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: %d", rec.Code)
	}
	if err := json.Unmarshal(env.Data, &run); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(run.Result.ItemResults) == 0 {
		t.Fatalf("detail must include item results")
	}

	req := httptest.NewRequest(http.MethodGet, "/simulations/"+run.ID+"/export.csv", nil)
	csvRec := httptest.NewRecorder()
	h.ServeHTTP(csvRec, req)
	if csvRec.Code != http.StatusOK || !strings.HasPrefix(csvRec.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected export response %d %q", csvRec.Code, csvRec.Header().Get("Content-Type"))
	}
	records, err := csv.NewReader(bytes.NewReader(csvRec.Body.Bytes())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != len(run.Result.ItemResults)+1 {
		t.Fatalf("expected header + %d rows, got %d", len(run.Result.ItemResults), len(records))
	}

	rec, _ = do(t, h, http.MethodGet, "/simulations/"+run.ID+"/export.csv?filter=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown filter, got %d", rec.Code)
	}

	rec, _ = do(t, h, http.MethodGet, "/simulations/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
