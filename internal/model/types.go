package model

import "time"

// AttendanceStatus is the closed set of statuses the attendance backend
// reports. Any other value is displayed as-is but treated as unknown.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "P"
	StatusLate    AttendanceStatus = "L"
	StatusAbsent  AttendanceStatus = "A"
)

// Known reports whether the status belongs to the closed enumeration.
func (s AttendanceStatus) Known() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent:
		return true
	}
	return false
}

// RejectReason explains why the gate refused a decoded payload.
type RejectReason string

const (
	RejectTooShort RejectReason = "too_short"
	RejectTooLong  RejectReason = "too_long"
	RejectCooldown RejectReason = "cooldown"
)

// ScanDecision is the gate's verdict on a single decoded payload.
type ScanDecision struct {
	Accepted bool
	Payload  string
	Reason   RejectReason
}

// ScanRecord holds the student fields returned for a successful submission.
type ScanRecord struct {
	StudentName string           `json:"student_name"`
	ClassName   string           `json:"class"`
	ScanTime    string           `json:"scan_time"`
	Status      AttendanceStatus `json:"attendance_status"`
	ScanType    string           `json:"scan_type"`
	PhotoURL    string           `json:"photo_url,omitempty"`
}

// ScanResult is the typed outcome of one submission attempt.
type ScanResult struct {
	Success bool        `json:"success"`
	Record  *ScanRecord `json:"record,omitempty"`
	Message string      `json:"message,omitempty"`
}

// StoredScan extends a submission outcome with journal metadata.
type StoredScan struct {
	ID          string     `json:"id"`
	Payload     string     `json:"payload"`
	StationCode string     `json:"station_code"`
	Result      ScanResult `json:"result"`
	ScannedAt   time.Time  `json:"scanned_at"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// StoredRealtimeEvent is an inbound relay event kept in the journal.
type StoredRealtimeEvent struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	Event      string    `json:"event"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}
