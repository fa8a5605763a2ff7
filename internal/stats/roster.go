package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hostelhub/internal/attendance"
	"hostelhub/internal/session"
)

// ErrInvalidDay is returned for a roster day that is not YYYY-MM-DD.
var ErrInvalidDay = errors.New("date must be YYYY-MM-DD")

// RosterEntry is one student's status for one session of the day.
type RosterEntry struct {
	UserID    string             `json:"userId"`
	Name      string             `json:"name"`
	Session   session.ID         `json:"session"`
	Status    SessionStatus      `json:"status"`
	IsLeave   bool               `json:"isLeave"`
	IsHoliday bool               `json:"isHoliday"`
	Record    *attendance.Record `json:"record,omitempty"`
}

// Roster is a hostel block's attendance for a single day.
type Roster struct {
	HostelBlock string        `json:"hostelBlock"`
	Day         string        `json:"date"`
	Entries     []RosterEntry `json:"entries"`
}

// Roster lists every student of hostelBlock in name order with the status
// of each session on day. A stored absence counts as absent even before
// the session cutoff; an unmarked session is pending until then.
func (s *Service) Roster(ctx context.Context, hostelBlock, day string) (Roster, error) {
	date, err := attendance.ParseDay(day)
	if err != nil {
		return Roster{}, ErrInvalidDay
	}
	students, err := s.store.ListStudents(ctx, hostelBlock)
	if err != nil {
		return Roster{}, fmt.Errorf("list students: %w", err)
	}
	records, err := s.store.BlockRecords(ctx, hostelBlock, day)
	if err != nil {
		return Roster{}, fmt.Errorf("block records: %w", err)
	}
	leaves, err := s.store.BlockLeaves(ctx, hostelBlock, day, day)
	if err != nil {
		return Roster{}, fmt.Errorf("block leaves: %w", err)
	}
	holiday, err := s.store.HolidayWindow(ctx, hostelBlock)
	if err != nil {
		return Roster{}, fmt.Errorf("holiday window: %w", err)
	}

	type key struct {
		user string
		sess session.ID
	}
	recs := make(map[key]attendance.Record, len(records))
	for _, rec := range records {
		recs[key{rec.UserID, rec.Session}] = rec
	}
	onLeave := make(map[string]bool)
	for _, lv := range leaves {
		onLeave[lv.UserID] = true
	}

	now := s.clock.Now().In(s.loc)
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)
	onHoliday := holiday.Covers(day)

	roster := Roster{HostelBlock: hostelBlock, Day: day, Entries: []RosterEntry{}}
	for _, st := range students {
		for _, w := range session.Windows {
			entry := RosterEntry{
				UserID:    st.ID,
				Name:      st.Name,
				Session:   w.ID,
				IsLeave:   onLeave[st.ID],
				IsHoliday: onHoliday,
			}
			rec, marked := recs[key{st.ID, w.ID}]
			if marked {
				entry.Record = &rec
			}
			decided := marked || session.CutoffPassed(w.ID, date, now)
			entry.Status = classify(marked && rec.IsPresent, entry.IsLeave, onHoliday, decided)
			roster.Entries = append(roster.Entries, entry)
		}
	}
	return roster, nil
}
