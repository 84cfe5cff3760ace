// Package submit posts accepted scans to the attendance backend and maps the
// response into a typed result. Submission is one attempt per accepted scan:
// a retry could duplicate an attendance record server-side.
package submit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/trillsolutions/scanner-app/internal/model"
)

const (
	scanPath       = "/api/scan"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Submitter performs the scan POST. Target fields may be swapped at runtime
// when the station configuration changes.
type Submitter struct {
	client *http.Client

	mu          sync.RWMutex
	serverURL   string
	stationCode string
}

// New builds a submitter for the given backend.
func New(serverURL, stationCode string, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Submitter{
		client:      &http.Client{Timeout: timeout},
		serverURL:   strings.TrimRight(serverURL, "/"),
		stationCode: stationCode,
	}
}

// UpdateTarget replaces the backend URL and station code for subsequent
// submissions. In-flight requests finish against the old target.
func (s *Submitter) UpdateTarget(serverURL, stationCode string) {
	s.mu.Lock()
	s.serverURL = strings.TrimRight(serverURL, "/")
	s.stationCode = stationCode
	s.mu.Unlock()
}

// StationCode returns the station code used for submissions.
func (s *Submitter) StationCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stationCode
}

// response is the backend's JSON envelope.
type response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		StudentName      string `json:"student_name"`
		Class            string `json:"class"`
		ScanTime         string `json:"scan_time"`
		AttendanceStatus string `json:"attendance_status"`
		ScanType         string `json:"scan_type"`
		PhotoURL         string `json:"photo_url"`
		Message          string `json:"message"`
	} `json:"data"`
}

// Submit posts one payload. Every failure mode, transport or protocol, is
// folded into a ScanResult; nothing propagates as a fault.
func (s *Submitter) Submit(ctx context.Context, payload string) model.ScanResult {
	s.mu.RLock()
	serverURL := s.serverURL
	stationCode := s.stationCode
	s.mu.RUnlock()

	if serverURL == "" {
		return failure("server URL not configured")
	}

	form := url.Values{}
	form.Set("scan_data", payload)
	form.Set("station_code", stationCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+scanPath, strings.NewReader(form.Encode()))
	if err != nil {
		return failure(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(fmt.Sprintf("submit scan: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failure(fmt.Sprintf("read response: %v", err))
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return failure(fmt.Sprintf("malformed response (HTTP %d): %v", resp.StatusCode, err))
	}

	if parsed.Status != "success" {
		msg := parsed.Message
		if msg == "" {
			msg = parsed.Data.Message
		}
		if msg == "" {
			msg = "Unknown error"
		}
		return failure(msg)
	}

	record := model.ScanRecord{
		StudentName: parsed.Data.StudentName,
		ClassName:   parsed.Data.Class,
		ScanTime:    parsed.Data.ScanTime,
		Status:      model.AttendanceStatus(parsed.Data.AttendanceStatus),
		ScanType:    parsed.Data.ScanType,
		PhotoURL:    parsed.Data.PhotoURL,
	}
	if record.StudentName == "" || record.ClassName == "" || record.ScanTime == "" || record.Status == "" {
		return failure("incomplete success response from server")
	}

	return model.ScanResult{Success: true, Record: &record}
}

func failure(message string) model.ScanResult {
	return model.ScanResult{Message: message}
}
