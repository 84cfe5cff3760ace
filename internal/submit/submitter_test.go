package submit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trillsolutions/scanner-app/internal/model"
	"github.com/trillsolutions/scanner-app/internal/submit"
)

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/scan" {
			t.Errorf("path = %s, want /api/scan", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("content type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostFormValue("scan_data"); got != "1001" {
			t.Errorf("scan_data = %q, want %q", got, "1001")
		}
		if got := r.PostFormValue("station_code"); got != "GATE-1" {
			t.Errorf("station_code = %q, want %q", got, "GATE-1")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "success",
			"data": {
				"student_name": "Alice Johnson",
				"class": "5A",
				"scan_time": "2026-03-09 08:01:12",
				"attendance_status": "P",
				"scan_type": "IN",
				"photo_url": "https://img.example.com/alice.jpg"
			}
		}`))
	}))
	defer server.Close()

	s := submit.New(server.URL, "GATE-1", time.Second)
	result := s.Submit(context.Background(), "1001")

	if !result.Success {
		t.Fatalf("Submit failed: %s", result.Message)
	}
	record := result.Record
	if record == nil {
		t.Fatal("success result carries no record")
	}
	if record.StudentName != "Alice Johnson" {
		t.Errorf("student = %q, want %q", record.StudentName, "Alice Johnson")
	}
	if record.ClassName != "5A" {
		t.Errorf("class = %q, want %q", record.ClassName, "5A")
	}
	if record.Status != model.StatusPresent {
		t.Errorf("status = %q, want %q", record.Status, model.StatusPresent)
	}
	if record.PhotoURL == "" {
		t.Error("photo url dropped")
	}
}

func TestSubmitServerRejection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{
			name:    "top-level message",
			body:    `{"status":"error","message":"Invalid station code"}`,
			status:  http.StatusOK,
			message: "Invalid station code",
		},
		{
			name:    "nested message",
			body:    `{"status":"error","data":{"message":"Student not found"}}`,
			status:  http.StatusOK,
			message: "Student not found",
		},
		{
			name:    "no message at all",
			body:    `{"status":"error"}`,
			status:  http.StatusOK,
			message: "Unknown error",
		},
		{
			name:    "error status with body",
			body:    `{"status":"error","message":"Server overloaded"}`,
			status:  http.StatusInternalServerError,
			message: "Server overloaded",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			s := submit.New(server.URL, "GATE-1", time.Second)
			result := s.Submit(context.Background(), "1001")

			if result.Success {
				t.Fatal("rejection reported as success")
			}
			if result.Message != tt.message {
				t.Errorf("message = %q, want %q", result.Message, tt.message)
			}
			if result.Record != nil {
				t.Error("failure result carries a record")
			}
		})
	}
}

func TestSubmitIncompleteSuccess(t *testing.T) {
	t.Parallel()

	// status says success but mandatory fields are missing.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","data":{"student_name":"Alice Johnson"}}`))
	}))
	defer server.Close()

	s := submit.New(server.URL, "GATE-1", time.Second)
	result := s.Submit(context.Background(), "1001")

	if result.Success {
		t.Fatal("incomplete response reported as success")
	}
	if result.Message != "incomplete success response from server" {
		t.Errorf("message = %q", result.Message)
	}
}

func TestSubmitTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	s := submit.New(server.URL, "GATE-1", time.Second)
	result := s.Submit(context.Background(), "1001")

	if result.Success {
		t.Fatal("transport failure reported as success")
	}
	if result.Message == "" {
		t.Error("transport failure carries no message")
	}
}

func TestSubmitMalformedBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway error</html>`))
	}))
	defer server.Close()

	s := submit.New(server.URL, "GATE-1", time.Second)
	result := s.Submit(context.Background(), "1001")

	if result.Success {
		t.Fatal("malformed body reported as success")
	}
}

func TestSubmitNoServerConfigured(t *testing.T) {
	t.Parallel()

	s := submit.New("", "GATE-1", time.Second)
	result := s.Submit(context.Background(), "1001")

	if result.Success {
		t.Fatal("missing server URL reported as success")
	}
}

func TestUpdateTarget(t *testing.T) {
	t.Parallel()

	var gotStation string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotStation = r.PostFormValue("station_code")
		_, _ = w.Write([]byte(`{"status":"error","message":"nope"}`))
	}))
	defer server.Close()

	s := submit.New("http://unreachable.invalid", "OLD", time.Second)
	s.UpdateTarget(server.URL+"/", "GATE-2")

	if got := s.StationCode(); got != "GATE-2" {
		t.Errorf("StationCode = %q, want %q", got, "GATE-2")
	}

	_ = s.Submit(context.Background(), "1001")
	if gotStation != "GATE-2" {
		t.Errorf("submitted station = %q, want %q", gotStation, "GATE-2")
	}
}
