// Package stats classifies every session of a month as present, leave,
// holiday or absent and derives the attendance percentage.
package stats

import (
	"math"
	"time"

	"hostelhub/internal/attendance"
	"hostelhub/internal/session"
)

// DayStatus is the calendar colour of a single day.
type DayStatus string

const (
	StatusPresent          DayStatus = "present"
	StatusPartiallyPresent DayStatus = "partially-present"
	StatusAbsent           DayStatus = "absent"
	StatusLeave            DayStatus = "leave"
	StatusHoliday          DayStatus = "holiday"
)

// SessionStatus classifies a single session.
type SessionStatus string

const (
	SessionPresent SessionStatus = "present"
	SessionLeave   SessionStatus = "leave"
	SessionHoliday SessionStatus = "holiday"
	SessionAbsent  SessionStatus = "absent"
	SessionPending SessionStatus = "pending"
)

// classify applies the per-session precedence: a present record, an
// approved leave, the hostel holiday, then absence once decided.
func classify(present, onLeave, onHoliday, decided bool) SessionStatus {
	switch {
	case present:
		return SessionPresent
	case onLeave:
		return SessionLeave
	case onHoliday:
		return SessionHoliday
	case decided:
		return SessionAbsent
	}
	return SessionPending
}

// Input is everything Aggregate needs. Now must be in the hostel's
// location; its calendar day is "today".
type Input struct {
	Records []attendance.Record
	Leaves  []attendance.Leave
	Holiday attendance.Holiday
	Year    int
	Month   time.Month
	Now     time.Time
}

// Summary counts sessions, not days.
type Summary struct {
	Year          int               `json:"year"`
	Month         time.Month        `json:"month"`
	StatusMap     map[int]DayStatus `json:"statusMap"`
	Present       int               `json:"present"`
	Absent        int               `json:"absent"`
	Leave         int               `json:"leave"`
	Holiday       int               `json:"holiday"`
	Percentage    int               `json:"percentage"`
	ActiveHoliday string            `json:"activeHoliday,omitempty"`
}

// Aggregate classifies each session of each day up to today. Per session
// the first matching rule wins: a present record, an approved leave, the
// hostel holiday, and finally absence once the session's cutoff passed.
// Sessions that are neither are left unclassified.
func Aggregate(in Input) Summary {
	loc := in.Now.Location()
	today := in.Now.Format(attendance.DayLayout)
	sum := Summary{Year: in.Year, Month: in.Month, StatusMap: make(map[int]DayStatus)}

	present := make(map[string]map[session.ID]bool)
	for _, rec := range in.Records {
		if present[rec.Day] == nil {
			present[rec.Day] = make(map[session.ID]bool)
		}
		present[rec.Day][rec.Session] = rec.IsPresent
	}

	first := time.Date(in.Year, in.Month, 1, 0, 0, 0, 0, loc)
	days := first.AddDate(0, 1, -1).Day()
	for d := 1; d <= days; d++ {
		date := time.Date(in.Year, in.Month, d, 0, 0, 0, 0, loc)
		key := date.Format(attendance.DayLayout)
		if key > today {
			break
		}
		onLeave := coveredByLeave(in.Leaves, key)
		onHoliday := in.Holiday.Covers(key)

		var presentSessions, absentSessions int
		for _, w := range session.Windows {
			switch classify(present[key][w.ID], onLeave, onHoliday, session.CutoffPassed(w.ID, date, in.Now)) {
			case SessionPresent:
				sum.Present++
				presentSessions++
			case SessionLeave:
				sum.Leave++
			case SessionHoliday:
				sum.Holiday++
			case SessionAbsent:
				sum.Absent++
				absentSessions++
			}
		}

		switch {
		case presentSessions == len(session.Windows):
			sum.StatusMap[d] = StatusPresent
		case presentSessions > 0:
			sum.StatusMap[d] = StatusPartiallyPresent
		case onLeave:
			sum.StatusMap[d] = StatusLeave
		case onHoliday:
			sum.StatusMap[d] = StatusHoliday
		case absentSessions > 0:
			sum.StatusMap[d] = StatusAbsent
		}
	}

	sum.Percentage = Percentage(sum.Present, sum.Absent)
	if in.Holiday.Covers(today) {
		sum.ActiveHoliday = in.Holiday.Label
	}
	return sum
}

// Percentage returns round(100*present/(present+absent)), or 0 when no
// session has been classified either way.
func Percentage(present, absent int) int {
	total := present + absent
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(present) / float64(total)))
}

func coveredByLeave(leaves []attendance.Leave, day string) bool {
	for _, lv := range leaves {
		if lv.Status == attendance.LeaveApproved && day >= lv.From && day <= lv.To {
			return true
		}
	}
	return false
}
