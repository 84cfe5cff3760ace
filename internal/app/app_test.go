package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trillsolutions/scanner-app/internal/config"
	"github.com/trillsolutions/scanner-app/internal/video"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	return New(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOfferLatestReplacesStaleFrame(t *testing.T) {
	t.Parallel()

	frames := make(chan *video.Frame, 1)

	first, err := video.NewFrame(4, 4, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	second, err := video.NewFrame(4, 4, 3)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	offerLatest(frames, first)
	offerLatest(frames, second)

	select {
	case got := <-frames:
		if got != second {
			t.Error("stale frame served instead of the latest")
		}
	default:
		t.Fatal("handoff channel empty")
	}

	select {
	case <-frames:
		t.Fatal("more than one frame queued")
	default:
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestReadyzBeforeStartup(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before services start", rec.Code)
	}
}

func TestStatusBeforeStartup(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before the store opens", rec.Code)
	}
}

func TestScannerStartStop(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	router := a.routes()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scanner/start", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d", rec.Code)
	}
	if !a.scanning.Load() {
		t.Error("scanner not started")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scanner/stop", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d", rec.Code)
	}
	if a.scanning.Load() {
		t.Error("scanner not stopped")
	}
}

func TestUpdateConfig(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	router := a.routes()

	body := `{"station_code":"GATE-9","cooldown_ms":1500,"realtime":{"host":"relay.example.com"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	cfg := a.snapshot()
	if cfg.StationCode != "GATE-9" {
		t.Errorf("station_code = %q", cfg.StationCode)
	}
	if cfg.CooldownMS != 1500 {
		t.Errorf("cooldown_ms = %d", cfg.CooldownMS)
	}
	if cfg.Realtime.Host != "relay.example.com" {
		t.Errorf("relay host = %q", cfg.Realtime.Host)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["station_code"] != "GATE-9" {
		t.Errorf("response station_code = %v", resp["station_code"])
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	before := a.snapshot()

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{"cooldown_ms":-5}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := a.snapshot(); got.CooldownMS != before.CooldownMS {
		t.Error("rejected update still applied")
	}
}

func TestUpdateConfigNoFields(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServeConfigMasksSecret(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Realtime.Secret = "app-secret"
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "app-secret") {
		t.Error("relay secret leaked in config response")
	}
}
