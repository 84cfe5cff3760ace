package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/trillsolutions/scanner-app/internal/model"
	"github.com/trillsolutions/scanner-app/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "scanner.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return s
}

func TestInsertAndListScans(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	scannedAt := time.Date(2026, 3, 9, 8, 1, 12, 0, time.UTC)
	id, err := s.InsertScan(ctx, model.StoredScan{
		Payload:     "1001",
		StationCode: "GATE-1",
		Result: model.ScanResult{
			Success: true,
			Record: &model.ScanRecord{
				StudentName: "Alice Johnson",
				ClassName:   "5A",
				ScanTime:    "2026-03-09 08:01:12",
				Status:      model.StatusPresent,
				ScanType:    "IN",
			},
		},
		ScannedAt: scannedAt,
	})
	if err != nil {
		t.Fatalf("insert scan: %v", err)
	}
	if id == "" {
		t.Fatal("insert returned empty id")
	}

	if _, err := s.InsertScan(ctx, model.StoredScan{
		Payload:     "9999",
		StationCode: "GATE-1",
		Result:      model.ScanResult{Message: "Student not found"},
	}); err != nil {
		t.Fatalf("insert failed scan: %v", err)
	}

	scans, err := s.RecentScans(ctx, 10)
	if err != nil {
		t.Fatalf("recent scans: %v", err)
	}
	if len(scans) != 2 {
		t.Fatalf("got %d scans, want 2", len(scans))
	}

	var accepted *model.StoredScan
	for i := range scans {
		if scans[i].ID == id {
			accepted = &scans[i]
		}
	}
	if accepted == nil {
		t.Fatal("inserted scan not returned")
	}
	if !accepted.Result.Success {
		t.Error("success flag lost")
	}
	if accepted.Result.Record == nil || accepted.Result.Record.StudentName != "Alice Johnson" {
		t.Errorf("record round-trip mangled: %+v", accepted.Result.Record)
	}
	if !accepted.ScannedAt.Equal(scannedAt) {
		t.Errorf("scanned_at = %v, want %v", accepted.ScannedAt, scannedAt)
	}
}

func TestScanCounts(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	record := &model.ScanRecord{
		StudentName: "Chen Wei",
		ClassName:   "6B",
		ScanTime:    "2026-03-09 08:05:00",
		Status:      model.StatusLate,
	}

	for i := 0; i < 3; i++ {
		if _, err := s.InsertScan(ctx, model.StoredScan{
			Payload:     "1001",
			StationCode: "GATE-1",
			Result:      model.ScanResult{Success: true, Record: record},
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := s.InsertScan(ctx, model.StoredScan{
		Payload:     "1002",
		StationCode: "GATE-1",
		Result:      model.ScanResult{Message: "Invalid station code"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	succeeded, failed, err := s.ScanCounts(ctx)
	if err != nil {
		t.Fatalf("scan counts: %v", err)
	}
	if succeeded != 3 || failed != 1 {
		t.Errorf("counts = (%d, %d), want (3, 1)", succeeded, failed)
	}
}

func TestRecentScansLimit(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.InsertScan(ctx, model.StoredScan{
			Payload:     "1001",
			StationCode: "GATE-1",
			Result:      model.ScanResult{Message: "nope"},
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	scans, err := s.RecentScans(ctx, 3)
	if err != nil {
		t.Fatalf("recent scans: %v", err)
	}
	if len(scans) != 3 {
		t.Errorf("got %d scans, want 3", len(scans))
	}
}

func TestRealtimeEvents(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertRealtimeEvent(ctx, model.StoredRealtimeEvent{
		Channel: "attendance",
		Event:   "attendance.recorded",
		Payload: `{"student_name":"Alice Johnson"}`,
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	events, err := s.RecentRealtimeEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Event != "attendance.recorded" || events[0].Channel != "attendance" {
		t.Errorf("event round-trip mangled: %+v", events[0])
	}
	if events[0].ID == "" {
		t.Error("event id not generated")
	}
	if events[0].ReceivedAt.IsZero() {
		t.Error("received_at not populated")
	}
}

func TestWipeScans(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertScan(ctx, model.StoredScan{
		Payload:     "1001",
		StationCode: "GATE-1",
		Result:      model.ScanResult{Message: "nope"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertRealtimeEvent(ctx, model.StoredRealtimeEvent{
		Channel: "attendance",
		Event:   "attendance.recorded",
	}); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	if err := s.WipeScans(ctx); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	scans, err := s.RecentScans(ctx, 10)
	if err != nil {
		t.Fatalf("recent scans: %v", err)
	}
	if len(scans) != 0 {
		t.Errorf("%d scans survive the wipe", len(scans))
	}

	events, err := s.RecentRealtimeEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("%d events survive the wipe", len(events))
	}
}
