// Package app wires the scan pipeline, the realtime channel client, the scan
// journal, and the station HTTP API, and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/trillsolutions/scanner-app/internal/config"
	"github.com/trillsolutions/scanner-app/internal/decode"
	"github.com/trillsolutions/scanner-app/internal/gate"
	"github.com/trillsolutions/scanner-app/internal/model"
	"github.com/trillsolutions/scanner-app/internal/realtime"
	"github.com/trillsolutions/scanner-app/internal/store"
	"github.com/trillsolutions/scanner-app/internal/submit"
	"github.com/trillsolutions/scanner-app/internal/video"
)

// Notifier is the audio/speech collaborator. Calls are fire-and-forget; the
// pipeline never consumes a return value.
type Notifier interface {
	Notify(message string)
}

// LogNotifier is the default Notifier when no audio collaborator is wired.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify writes the message to the log.
func (n LogNotifier) Notify(message string) {
	n.Logger.Info("notify", "message", message)
}

// submission carries one completed submission from the submit worker back to
// the app over a channel; no result crosses a goroutine boundary through
// shared state.
type submission struct {
	payload   string
	result    model.ScanResult
	scannedAt time.Time
}

type counters struct {
	framesDecoded  atomic.Int64
	scansAccepted  atomic.Int64
	submissionsOK  atomic.Int64
	submissionsErr atomic.Int64
	eventsReceived atomic.Int64
}

// App owns the station's components and their lifecycle.
type App struct {
	logger    *slog.Logger
	store     *store.Store
	gate      *gate.Gate
	decoder   *decode.Decoder
	submitter *submit.Submitter
	relay     *realtime.Client
	source    video.Source
	notifier  Notifier
	mdns      *zeroconf.Server

	cfgMu sync.RWMutex
	cfg   config.Config

	scanning     atomic.Bool
	lastAccepted atomic.Int64 // unix nanoseconds
	stats        counters

	lastScanMu sync.RWMutex
	lastScan   *model.StoredScan
}

// New constructs an application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		notifier: LogNotifier{Logger: logger},
	}
}

// SetSource installs the video capture collaborator. Must be called before
// Run; when no source is set and frames_dir is configured, a replay source is
// created instead.
func (a *App) SetSource(src video.Source) {
	a.source = src
}

// SetNotifier replaces the default log-backed notifier.
func (a *App) SetNotifier(n Notifier) {
	if n != nil {
		a.notifier = n
	}
}

// Run starts all configured services and blocks until the context is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	cfg := a.snapshot()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	a.gate = gate.New(cfg.Cooldown())
	a.decoder = decode.New(a.logger)
	a.submitter = submit.New(cfg.ServerURL, cfg.StationCode, cfg.SubmitTimeoutDuration())

	var wg sync.WaitGroup

	if cfg.Realtime.Host != "" && cfg.Realtime.Key != "" {
		a.relay = realtime.NewClient(relayConfig(cfg), cfg.Channel, a.logger)
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.relay.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			a.eventLoop(ctx)
		}()
	} else {
		a.logger.Warn("realtime relay not configured, live updates disabled")
	}

	if a.source == nil && cfg.FramesDir != "" {
		src, err := video.NewReplaySource(cfg.FramesDir)
		if err != nil {
			return fmt.Errorf("open replay source: %w", err)
		}
		a.source = src
	}

	if a.source != nil {
		frames := make(chan *video.Frame, 1)
		accepted := make(chan string, 4)
		results := make(chan submission, 8)

		a.scanning.Store(true)
		a.lastAccepted.Store(time.Now().UnixNano())

		wg.Add(4)
		go func() {
			defer wg.Done()
			a.frameLoop(ctx, frames)
		}()
		go func() {
			defer wg.Done()
			a.decodeLoop(ctx, frames, accepted)
		}()
		go func() {
			defer wg.Done()
			a.submitLoop(ctx, accepted, results)
		}()
		go func() {
			defer wg.Done()
			a.resultLoop(ctx, results)
		}()
	} else {
		a.logger.Warn("no video source configured, scan pipeline idle")
	}

	httpErrCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.MDNSEnabled {
		if err := a.startMDNS(cfg.HTTPPort, cfg.StationCode); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown", "error", err)
		} else {
			a.logger.Info("http server stopped")
		}

		wg.Wait()
		return nil
	case err := <-httpErrCh:
		wg.Wait()
		return err
	}
}

// frameLoop acquires frames and hands the latest one to the decode worker.
// The handoff has capacity one: a stale frame is replaced, never queued, so
// decode latency cannot back up acquisition.
func (a *App) frameLoop(ctx context.Context, frames chan *video.Frame) {
	idle := time.NewTicker(100 * time.Millisecond)
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if !a.scanning.Load() {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		if timeout := a.snapshot().IdleTimeout(); timeout > 0 {
			last := time.Unix(0, a.lastAccepted.Load())
			if time.Since(last) > timeout {
				a.StopScanner("inactivity")
				continue
			}
		}

		frame, ok := a.source.Read()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		offerLatest(frames, frame)
	}
}

// offerLatest places the frame in the handoff channel, displacing any frame
// the decoder has not picked up yet. The channel must be bidirectional here:
// the latest-wins drain receives as well as sends.
func offerLatest(frames chan *video.Frame, frame *video.Frame) {
	for {
		select {
		case frames <- frame:
			return
		default:
		}
		select {
		case <-frames:
		default:
		}
	}
}

func (a *App) decodeLoop(ctx context.Context, frames <-chan *video.Frame, accepted chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			a.stats.framesDecoded.Add(1)

			payload, ok := a.decoder.Decode(frame, a.gate.Evaluate)
			if !ok {
				continue
			}

			a.lastAccepted.Store(time.Now().UnixNano())
			a.stats.scansAccepted.Add(1)

			select {
			case accepted <- payload:
			case <-ctx.Done():
				return
			}
		}
	}
}

// submitLoop posts accepted payloads one at a time. On shutdown an in-flight
// submission may finish, but its result is discarded, not reported.
func (a *App) submitLoop(ctx context.Context, accepted <-chan string, results chan<- submission) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-accepted:
			scannedAt := time.Now().UTC()
			result := a.submitter.Submit(ctx, payload)

			select {
			case results <- submission{payload: payload, result: result, scannedAt: scannedAt}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *App) resultLoop(ctx context.Context, results <-chan submission) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-results:
			a.recordSubmission(ctx, sub)
		}
	}
}

func (a *App) recordSubmission(ctx context.Context, sub submission) {
	stored := model.StoredScan{
		Payload:     sub.payload,
		StationCode: a.submitter.StationCode(),
		Result:      sub.result,
		ScannedAt:   sub.scannedAt,
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := a.store.InsertScan(storeCtx, stored); err != nil {
		a.logger.Error("journal scan", "payload", sub.payload, "error", err)
	}

	a.lastScanMu.Lock()
	a.lastScan = &stored
	a.lastScanMu.Unlock()

	if sub.result.Success {
		a.stats.submissionsOK.Add(1)
		a.logger.Info("scan submitted",
			"payload", sub.payload,
			"student", sub.result.Record.StudentName,
			"status", string(sub.result.Record.Status),
		)
		a.notifier.Notify("Successfully scanned")
		return
	}

	a.stats.submissionsErr.Add(1)
	a.logger.Warn("scan rejected by server", "payload", sub.payload, "message", sub.result.Message)
	a.notifier.Notify(sub.result.Message)
}

// eventLoop journals attendance events observed over the realtime channel.
func (a *App) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.relay.Events():
			a.stats.eventsReceived.Add(1)

			storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := a.store.InsertRealtimeEvent(storeCtx, model.StoredRealtimeEvent{
				Channel: ev.Channel,
				Event:   ev.Name,
				Payload: string(ev.Data),
			})
			cancel()
			if err != nil {
				a.logger.Error("journal realtime event", "event", ev.Name, "error", err)
			}
		}
	}
}

// StartScanner resumes frame acquisition.
func (a *App) StartScanner() {
	if a.scanning.CompareAndSwap(false, true) {
		a.lastAccepted.Store(time.Now().UnixNano())
		a.logger.Info("scanner started")
	}
}

// StopScanner pauses frame acquisition; the realtime channel stays up.
func (a *App) StopScanner(reason string) {
	if a.scanning.CompareAndSwap(true, false) {
		a.logger.Info("scanner stopped", "reason", reason)
	}
}

// ApplyConfig fans a configuration change out to the gate, the submitter,
// and the realtime client. In-progress operations are not interrupted; relay
// settings take effect on the next connection attempt.
func (a *App) ApplyConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()

	if a.gate != nil {
		a.gate.SetCooldown(cfg.Cooldown())
	}
	if a.submitter != nil {
		a.submitter.UpdateTarget(cfg.ServerURL, cfg.StationCode)
	}
	if a.relay != nil {
		a.relay.UpdateConfig(relayConfig(cfg))
	}

	a.logger.Info("configuration updated", "station_code", cfg.StationCode)
	return nil
}

func (a *App) snapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg
}

func relayConfig(cfg config.Config) realtime.Config {
	return realtime.Config{
		Host:   cfg.Realtime.Host,
		Port:   cfg.Realtime.Port,
		Key:    cfg.Realtime.Key,
		Secret: cfg.Realtime.Secret,
		AppID:  cfg.Realtime.AppID,
		UseTLS: cfg.Realtime.UseTLS,
	}
}
