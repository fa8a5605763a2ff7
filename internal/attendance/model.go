package attendance

import (
	"errors"
	"time"

	"hostelhub/internal/face"
	"hostelhub/internal/session"
)

// DayLayout is the calendar-day encoding used everywhere in the ledger.
const DayLayout = "2006-01-02"

// Student is the subset of a user the ledger reads.
type Student struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	HostelBlock   string         `json:"hostelBlock"`
	FaceEmbedding face.Embedding `json:"-"`
}

// Enrolled reports whether the student has a reference face.
func (s Student) Enrolled() bool { return len(s.FaceEmbedding) > 0 }

// Record is one persisted attendance decision.
type Record struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Day       string     `json:"date"`
	Session   session.ID `json:"session"`
	IsPresent bool       `json:"isPresent"`
	PhotoRef  string     `json:"photoRef,omitempty"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Note      string     `json:"reason,omitempty"`
	MarkedAt  time.Time  `json:"markedAt"`
}

// LeaveStatus is the approval state of a leave request.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// Leave is an inclusive day range a student is away.
type Leave struct {
	UserID string      `json:"userId"`
	From   string      `json:"from"`
	To     string      `json:"to"`
	Status LeaveStatus `json:"status"`
}

// Holiday is a hostel-wide closure. It only applies when Active.
type Holiday struct {
	HostelBlock string `json:"hostelBlock"`
	Label       string `json:"label"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// Active reports whether the window is fully specified.
func (h Holiday) Active() bool {
	return h.Label != "" && h.From != "" && h.To != ""
}

// Covers reports whether day falls inside the holiday window.
func (h Holiday) Covers(day string) bool {
	return h.Active() && day >= h.From && day <= h.To
}

// Reason names why a mark was rejected.
type Reason string

const (
	ReasonSessionClosed    Reason = "SessionClosed"
	ReasonOutsideGeofence  Reason = "OutsideGeofence"
	ReasonDuplicateSession Reason = "DuplicateSession"
	ReasonNoFaceEnrolled   Reason = "NoFaceEnrolled"
	ReasonNoFaceDetected   Reason = "NoFaceDetected"
	ReasonFaceTooUnclear   Reason = "FaceTooUnclear"
	ReasonFaceTooSmall     Reason = "FaceTooSmall"
	ReasonFaceMismatch     Reason = "FaceMismatch"
	ReasonInvalidRequest   Reason = "InvalidRequest"
)

// Rejection is a user-facing refusal to mark attendance.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"error"`
}

func (r *Rejection) Error() string { return r.Message }

func reject(reason Reason, msg string) *Rejection {
	return &Rejection{Reason: reason, Message: msg}
}

var (
	// ErrUserNotFound is returned when the user id does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicate is returned by stores when (user, day, session) exists.
	ErrDuplicate = errors.New("attendance already recorded for this session")
	// ErrRecordNotFound is returned when a record id does not exist.
	ErrRecordNotFound = errors.New("attendance record not found")
)

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}
