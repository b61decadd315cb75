package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/revbot/internal/config"
	"github.com/alanyoungcy/revbot/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeAlpaca serves an empty paper account with no bars, so a cycle runs
// end to end without placing orders.
func fakeAlpaca(t *testing.T, authorized bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/account", func(w http.ResponseWriter, r *http.Request) {
		if !authorized {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 40110000, "message": "request is not authorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "acc-1", "status": "ACTIVE", "cash": "1000", "buying_power": "1000", "daytrade_count": 0,
		})
	})
	mux.HandleFunc("GET /v2/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	mux.HandleFunc("GET /v2/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})
	mux.HandleFunc("GET /v2/stocks/bars", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"bars": map[string]any{}, "next_page_token": nil})
	})
	mux.HandleFunc("GET /v2/stocks/{symbol}/trades/latest", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"symbol": r.PathValue("symbol"), "trade": map[string]any{"p": 10.5}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, brokerURL string) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Broker.PaperURL = brokerURL
	cfg.Broker.DataURL = brokerURL
	cfg.Broker.MaxRetries = 0
	cfg.Strategy.Universe = []string{"AAPL"}
	cfg.Store.Dir = filepath.Join(t.TempDir(), "state")
	cfg.Log.File = ""
	return &cfg
}

func runApp(t *testing.T, cfg *config.Config) error {
	t.Helper()
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()
	return a.Run(context.Background())
}

func TestOnceModeCommitsAndArchives(t *testing.T) {
	srv := fakeAlpaca(t, true)
	cfg := testConfig(t, srv.URL)

	if err := runApp(t, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, name := range []string{"positions.json", "pending_orders.json"} {
		if _, err := os.Stat(filepath.Join(cfg.Store.Dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	runs, err := os.ReadDir(filepath.Join(cfg.Store.Dir, "runs"))
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
}

func TestOnceModeConnectivityFailure(t *testing.T) {
	srv := fakeAlpaca(t, false)
	cfg := testConfig(t, srv.URL)

	err := runApp(t, cfg)
	if domain.KindOf(err) != domain.KindConnectivity {
		t.Fatalf("err = %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Store.Dir, "positions.json")); !os.IsNotExist(statErr) {
		t.Fatal("state committed after connectivity failure")
	}
}

func TestOnceModeBoltBackend(t *testing.T) {
	srv := fakeAlpaca(t, true)
	cfg := testConfig(t, srv.URL)
	cfg.Store.Backend = "bolt"
	cfg.Store.BoltPath = filepath.Join(t.TempDir(), "revbot.db")

	if err := runApp(t, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(cfg.Store.BoltPath); err != nil {
		t.Fatal(err)
	}
}

func TestWireRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Store.Backend = "sqlite"

	err := runApp(t, cfg)
	if err == nil || !strings.Contains(err.Error(), `unknown store backend "sqlite"`) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnsupportedMode(t *testing.T) {
	srv := fakeAlpaca(t, true)
	cfg := testConfig(t, srv.URL)
	cfg.Mode = "backtest"

	if err := runApp(t, cfg); err == nil || !strings.Contains(err.Error(), "unsupported mode") {
		t.Fatalf("err = %v", err)
	}
}
