// Package session resolves which attendance session, if any, is open at
// a given wall-clock time.
package session

import (
	"fmt"
	"time"
)

// ID names an attendance session.
type ID string

const (
	Morning   ID = "morning"
	Afternoon ID = "afternoon"
)

// Window is a fixed clock range, encoded as hour*100+minute, during which
// a presence claim for the session is accepted. Cutoff is the clock time
// after which an unmarked session counts as an absence.
type Window struct {
	ID     ID
	Start  int
	End    int
	Cutoff int
}

// Windows lists the sessions in day order.
var Windows = []Window{
	{ID: Morning, Start: 700, End: 830, Cutoff: 900},
	{ID: Afternoon, Start: 1230, End: 1800, Cutoff: 2200},
}

// ClockValue encodes t's wall-clock time as hour*100+minute.
func ClockValue(t time.Time) int {
	return t.Hour()*100 + t.Minute()
}

// Resolve returns the session whose window contains t. Both bounds are
// inclusive. Only t's wall-clock fields are consulted, so callers convert
// to the hostel's location first.
func Resolve(t time.Time) (ID, bool) {
	now := ClockValue(t)
	for _, w := range Windows {
		if now >= w.Start && now <= w.End {
			return w.ID, true
		}
	}
	return "", false
}

// Lookup returns the window for id.
func Lookup(id ID) (Window, bool) {
	for _, w := range Windows {
		if w.ID == id {
			return w, true
		}
	}
	return Window{}, false
}

// Parse validates a session name.
func Parse(s string) (ID, error) {
	if _, ok := Lookup(ID(s)); !ok {
		return "", fmt.Errorf("unknown session %q", s)
	}
	return ID(s), nil
}

// CutoffPassed reports whether session id on the calendar day containing
// day can be classified as missed at time now. Past days are always past
// the cutoff; future days never are. day and now must share a location.
func CutoffPassed(id ID, day, now time.Time) bool {
	w, ok := Lookup(id)
	if !ok {
		return false
	}
	dy, dm, dd := day.Date()
	ny, nm, nd := now.Date()
	d := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	switch {
	case d.Before(n):
		return true
	case d.After(n):
		return false
	}
	return ClockValue(now) >= w.Cutoff
}
