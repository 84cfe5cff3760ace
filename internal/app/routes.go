package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/trillsolutions/scanner-app/internal/model"
)

func (a *App) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.handleReadyz).Methods(http.MethodGet)
	r.HandleFunc("/api/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/scans", a.handleRecentScans).Methods(http.MethodGet)
	r.HandleFunc("/api/events", a.handleRecentEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/config", a.serveConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", a.updateConfig).Methods(http.MethodPost)
	r.HandleFunc("/api/scanner/start", a.handleScannerStart).Methods(http.MethodPost)
	r.HandleFunc("/api/scanner/stop", a.handleScannerStop).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/wipe", a.handleWipeScans).Methods(http.MethodPost)

	return r
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.submitter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	cfg := a.snapshot()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	succeeded, failed, err := a.store.ScanCounts(ctx)
	if err != nil {
		a.logger.Error("failed to load scan counts", "error", err)
		http.Error(w, "failed to load status", http.StatusInternalServerError)
		return
	}

	relayState := "disabled"
	if a.relay != nil {
		relayState = a.relay.State().String()
	}

	a.lastScanMu.RLock()
	lastScan := a.lastScan
	a.lastScanMu.RUnlock()

	response := struct {
		StationCode    string            `json:"station_code"`
		Scanning       bool              `json:"scanning"`
		RelayState     string            `json:"relay_state"`
		FramesDecoded  int64             `json:"frames_decoded"`
		ScansAccepted  int64             `json:"scans_accepted"`
		SubmissionsOK  int64             `json:"submissions_ok"`
		SubmissionsErr int64             `json:"submissions_failed"`
		EventsReceived int64             `json:"events_received"`
		ScansSucceeded int               `json:"scans_succeeded"`
		ScansFailed    int               `json:"scans_failed"`
		LastScan       *model.StoredScan `json:"last_scan,omitempty"`
	}{
		StationCode:    cfg.StationCode,
		Scanning:       a.scanning.Load(),
		RelayState:     relayState,
		FramesDecoded:  a.stats.framesDecoded.Load(),
		ScansAccepted:  a.stats.scansAccepted.Load(),
		SubmissionsOK:  a.stats.submissionsOK.Load(),
		SubmissionsErr: a.stats.submissionsErr.Load(),
		EventsReceived: a.stats.eventsReceived.Load(),
		ScansSucceeded: succeeded,
		ScansFailed:    failed,
		LastScan:       lastScan,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode status response", "error", err)
	}
}

func (a *App) handleRecentScans(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 250 {
				limit = parsed
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	scans, err := a.store.RecentScans(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load recent scans", "error", err)
		http.Error(w, "failed to load scans", http.StatusInternalServerError)
		return
	}

	response := struct {
		Scans []model.StoredScan `json:"scans"`
	}{Scans: scans}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode scans response", "error", err)
	}
}

func (a *App) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	events, err := a.store.RecentRealtimeEvents(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load recent events", "error", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	response := struct {
		Events []model.StoredRealtimeEvent `json:"events"`
	}{Events: events}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode events response", "error", err)
	}
}

func (a *App) serveConfig(w http.ResponseWriter, r *http.Request) {
	cfg := a.snapshot()

	response := map[string]any{
		"server_url":           cfg.ServerURL,
		"station_code":         cfg.StationCode,
		"channel":              cfg.Channel,
		"http_port":            cfg.HTTPPort,
		"database_path":        cfg.DatabasePath,
		"cooldown_ms":          cfg.CooldownMS,
		"submit_timeout_ms":    cfg.SubmitTimeout,
		"idle_timeout_minutes": cfg.IdleTimeoutMin,
		"realtime": map[string]any{
			"host":    cfg.Realtime.Host,
			"port":    cfg.Realtime.Port,
			"key":     cfg.Realtime.Key,
			"secret":  maskSecret(cfg.Realtime.Secret),
			"app_id":  cfg.Realtime.AppID,
			"use_tls": cfg.Realtime.UseTLS,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		a.logger.Error("failed to encode config response", "error", err)
	}
}

func (a *App) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerURL      *string `json:"server_url"`
		StationCode    *string `json:"station_code"`
		CooldownMS     *int    `json:"cooldown_ms"`
		IdleTimeoutMin *int    `json:"idle_timeout_minutes"`
		Realtime       *struct {
			Host   *string `json:"host"`
			Port   *int    `json:"port"`
			Key    *string `json:"key"`
			Secret *string `json:"secret"`
			AppID  *string `json:"app_id"`
			UseTLS *bool   `json:"use_tls"`
		} `json:"realtime"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	cfg := a.snapshot()
	updated := false

	if req.ServerURL != nil {
		cfg.ServerURL = strings.TrimSpace(*req.ServerURL)
		updated = true
	}
	if req.StationCode != nil {
		cfg.StationCode = strings.TrimSpace(*req.StationCode)
		updated = true
	}
	if req.CooldownMS != nil {
		cfg.CooldownMS = *req.CooldownMS
		updated = true
	}
	if req.IdleTimeoutMin != nil {
		cfg.IdleTimeoutMin = *req.IdleTimeoutMin
		updated = true
	}
	if req.Realtime != nil {
		rt := req.Realtime
		if rt.Host != nil {
			cfg.Realtime.Host = strings.TrimSpace(*rt.Host)
			updated = true
		}
		if rt.Port != nil {
			cfg.Realtime.Port = *rt.Port
			updated = true
		}
		if rt.Key != nil {
			cfg.Realtime.Key = *rt.Key
			updated = true
		}
		if rt.Secret != nil {
			cfg.Realtime.Secret = *rt.Secret
			updated = true
		}
		if rt.AppID != nil {
			cfg.Realtime.AppID = *rt.AppID
			updated = true
		}
		if rt.UseTLS != nil {
			cfg.Realtime.UseTLS = *rt.UseTLS
			updated = true
		}
	}

	if !updated {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"no supported fields provided"}`))
		return
	}

	if err := a.ApplyConfig(cfg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	a.serveConfig(w, r)
}

func (a *App) handleScannerStart(w http.ResponseWriter, r *http.Request) {
	a.StartScanner()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"scanning":true}`))
}

func (a *App) handleScannerStop(w http.ResponseWriter, r *http.Request) {
	a.StopScanner("api request")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"scanning":false}`))
}

func (a *App) handleWipeScans(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if strings.ToLower(strings.TrimSpace(body.Confirm)) != "wipe" {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.store.WipeScans(ctx); err != nil {
		a.logger.Error("wipe: failed", "error", err)
		http.Error(w, "failed to wipe data", http.StatusInternalServerError)
		return
	}

	a.logger.Warn("wipe: scan journal cleared")
	w.WriteHeader(http.StatusNoContent)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
