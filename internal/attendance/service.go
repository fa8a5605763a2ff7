// Package attendance is the ledger of per-session attendance decisions:
// it runs the session, duplicate, geofence and face gates in that order and
// persists at most one record per student, day and session.
package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hostelhub/internal/clock"
	"hostelhub/internal/face"
	"hostelhub/internal/geofence"
	"hostelhub/internal/metrics"
	"hostelhub/internal/queue"
	"hostelhub/internal/session"
)

// Queue message types published after the ledger changes.
const (
	EventMarked = "attendance.marked"
	EventReset  = "attendance.reset"
)

// Event is the body of a ledger queue message.
type Event struct {
	UserID  string     `json:"userId"`
	Day     string     `json:"date"`
	Session session.ID `json:"session,omitempty"`
}

// DecodeEvent parses a queue message published by the ledger.
func DecodeEvent(msg queue.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", msg.Type, err)
	}
	return evt, nil
}

// FaceExtractor turns a photo into a descriptor.
type FaceExtractor interface {
	Extract(ctx context.Context, photo []byte) (face.Embedding, error)
}

// Boundaries resolves a hostel block to its geofence.
type Boundaries interface {
	Lookup(block string) (geofence.Boundary, bool)
}

// Publisher receives ledger events.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options wires a Ledger. Archive, Publisher, Metrics and Logger may be nil.
type Options struct {
	Store       Store
	Boundaries  Boundaries
	Extractor   FaceExtractor
	Verifier    face.Verifier
	Archive     PhotoArchive
	Publisher   Publisher
	Clock       clock.Clock
	Location    *time.Location
	AllowBypass bool
	Logger      *slog.Logger
	Metrics     *metrics.Collectors
}

// Ledger coordinates attendance marking and lookups.
type Ledger struct {
	opts Options
	log  *slog.Logger
}

// NewLedger creates a ledger; a nil Clock means wall time and a nil
// Location means UTC.
func NewLedger(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Boundaries == nil {
		opts.Boundaries = geofence.NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{opts: opts, log: log.With("component", "ledger")}
}

// MarkRequest is a parsed attendance claim.
type MarkRequest struct {
	UserID    string
	Day       string // YYYY-MM-DD; today in the hostel zone when empty
	IsPresent bool
	Photo     string
	Position  geofence.Position
	Note      string
}

// Mark validates a claim and persists it. Gate failures are returned as
// *Rejection; an unknown user as ErrUserNotFound.
func (l *Ledger) Mark(ctx context.Context, req MarkRequest) (Record, error) {
	rec, err := l.mark(ctx, req)
	var rej *Rejection
	switch {
	case err == nil:
		l.opts.Metrics.MarkOutcome("accepted")
	case errors.As(err, &rej):
		l.log.Debug("mark rejected", "user", req.UserID, "reason", rej.Reason, "message", rej.Message)
		l.opts.Metrics.MarkOutcome(string(rej.Reason))
	case errors.Is(err, ErrUserNotFound):
		l.opts.Metrics.MarkOutcome("not_found")
	default:
		l.opts.Metrics.MarkOutcome("error")
	}
	return rec, err
}

func (l *Ledger) mark(ctx context.Context, req MarkRequest) (Record, error) {
	student, err := l.opts.Store.FindStudent(ctx, req.UserID)
	if err != nil {
		return Record{}, err
	}

	now := l.opts.Clock.Now().In(l.opts.Location)
	day, err := l.day(req.Day, now)
	if err != nil {
		return Record{}, err
	}
	if req.IsPresent && day != now.Format(DayLayout) {
		return Record{}, reject(ReasonInvalidRequest, "Attendance can only be marked for today.")
	}

	sess, open := session.Resolve(now)
	if !open {
		if req.IsPresent {
			return Record{}, reject(ReasonSessionClosed, "Attendance can only be marked between 07:00-08:30 AM and 12:30-06:00 PM.")
		}
		sess = session.Morning
	}

	if req.IsPresent {
		existing, err := l.opts.Store.FindRecords(ctx, student.ID, day)
		if err != nil {
			return Record{}, fmt.Errorf("find records: %w", err)
		}
		for _, rec := range existing {
			if rec.Session == sess {
				return Record{}, duplicate(sess)
			}
		}
		if err := l.checkLocation(student, req.Position); err != nil {
			return Record{}, err
		}
	}

	rec := Record{
		UserID:    student.ID,
		Day:       day,
		Session:   sess,
		IsPresent: req.IsPresent,
		Note:      req.Note,
		MarkedAt:  now.UTC(),
	}
	if !req.Position.Bypass {
		lat, lng := req.Position.Coord.Lat, req.Position.Coord.Lng
		rec.Latitude, rec.Longitude = &lat, &lng
	}

	if req.IsPresent {
		photo, err := l.verifyFace(ctx, student, req.Photo)
		if err != nil {
			return Record{}, err
		}
		rec.PhotoRef = l.archive(ctx, student.ID, day, sess, photo)
	}

	saved, err := l.opts.Store.InsertRecord(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Record{}, duplicate(sess)
		}
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	l.publish(ctx, EventMarked, Event{UserID: saved.UserID, Day: saved.Day, Session: saved.Session})
	return saved, nil
}

func (l *Ledger) day(raw string, now time.Time) (string, error) {
	if raw == "" {
		return now.Format(DayLayout), nil
	}
	if _, err := ParseDay(raw); err != nil {
		return "", reject(ReasonInvalidRequest, "date must be YYYY-MM-DD")
	}
	return raw, nil
}

func duplicate(sess session.ID) *Rejection {
	return reject(ReasonDuplicateSession, fmt.Sprintf("Attendance already marked for %s session today.", sess))
}

func (l *Ledger) checkLocation(student Student, pos geofence.Position) error {
	if pos.Bypass {
		if !l.opts.AllowBypass {
			return reject(ReasonOutsideGeofence, "Location is required to mark attendance.")
		}
		l.log.Warn("geofence bypassed for client without location", "user", student.ID, "hostel", student.HostelBlock)
		return nil
	}
	boundary, ok := l.opts.Boundaries.Lookup(student.HostelBlock)
	if !ok {
		l.log.Warn("no geofence configured for hostel", "user", student.ID, "hostel", student.HostelBlock)
		return nil
	}
	res := geofence.Check(pos.Coord, boundary)
	attrs := []any{"user", student.ID, "hostel", student.HostelBlock, "mode", res.Mode, "inside", res.Valid}
	if res.DistanceMeters != nil {
		attrs = append(attrs, "distance_m", *res.DistanceMeters, "radius_m", boundary.RadiusMeters)
	}
	l.log.Debug("geofence check", attrs...)
	if !res.Valid {
		return reject(ReasonOutsideGeofence, fmt.Sprintf("Location validation failed. You are outside %s boundaries.", student.HostelBlock))
	}
	return nil
}

// verifyFace returns the decoded photo once it matched the enrolled face.
func (l *Ledger) verifyFace(ctx context.Context, student Student, rawPhoto string) ([]byte, error) {
	if !student.Enrolled() {
		return nil, reject(ReasonNoFaceEnrolled, "Face ID not registered. Please tap your profile picture to register your Face ID.")
	}
	photo := SanitizePhoto(rawPhoto)
	if photo == "" {
		return nil, reject(ReasonNoFaceDetected, "No face detected in the capture. Please ensure your face is clearly visible, well-lit, and look directly at the camera.")
	}
	img, err := DecodePhoto(photo)
	if err != nil {
		return nil, reject(ReasonInvalidRequest, err.Error())
	}

	start := time.Now()
	emb, err := l.opts.Extractor.Extract(ctx, img)
	if err != nil {
		if rej := faceRejection(err); rej != nil {
			return nil, rej
		}
		return nil, fmt.Errorf("face verification: %w", err)
	}
	match := l.opts.Verifier.Match(student.FaceEmbedding, emb)
	l.log.Debug("face match", "user", student.ID, "similarity", match.SimilarityPercent, "elapsed", time.Since(start))
	if !match.Accepted {
		return nil, reject(ReasonFaceMismatch, fmt.Sprintf("Face mismatch! Similarity: %.1f%%. Please ensure it's you.", match.SimilarityPercent))
	}
	return img, nil
}

func faceRejection(err error) *Rejection {
	switch {
	case errors.Is(err, face.ErrNoFaceDetected):
		return reject(ReasonNoFaceDetected, "No face detected in the capture. Please ensure your face is clearly visible, well-lit, and look directly at the camera.")
	case errors.Is(err, face.ErrFaceTooUnclear):
		return reject(ReasonFaceTooUnclear, "Face too unclear. Ensure good lighting, look at camera directly, and avoid blur.")
	case errors.Is(err, face.ErrFaceTooSmall):
		return reject(ReasonFaceTooSmall, "Face too small in frame. Move closer to camera.")
	case errors.Is(err, face.ErrUnsupportedImage):
		return reject(ReasonInvalidRequest, "photo is not a supported image (jpeg, png or webp)")
	}
	return nil
}

func (l *Ledger) archive(ctx context.Context, userID, day string, sess session.ID, photo []byte) string {
	ref := PhotoDigestRef(photo)
	if l.opts.Archive == nil {
		return ref
	}
	name := fmt.Sprintf("%s_%s_%s", userID, day, sess)
	url, err := l.opts.Archive.Archive(ctx, name, photo)
	if err != nil {
		l.log.Warn("photo archive failed, keeping digest", "user", userID, "error", err)
		return ref
	}
	return url
}

func (l *Ledger) publish(ctx context.Context, typ string, evt Event) {
	if l.opts.Publisher == nil {
		return
	}
	body, _ := json.Marshal(evt)
	if err := l.opts.Publisher.Publish(ctx, queue.Message{Type: typ, Body: body}); err != nil {
		l.log.Warn("queue publish failed", "type", typ, "user", evt.UserID, "error", err)
	}
}

// CheckResult reports which sessions of a day are already recorded.
type CheckResult struct {
	MorningMarked   bool    `json:"morningMarked"`
	AfternoonMarked bool    `json:"afternoonMarked"`
	Morning         *Record `json:"morning"`
	Afternoon       *Record `json:"afternoon"`
}

// Check returns the day's records split by session.
func (l *Ledger) Check(ctx context.Context, userID, day string) (CheckResult, error) {
	if _, err := ParseDay(day); err != nil {
		return CheckResult{}, reject(ReasonInvalidRequest, "date must be YYYY-MM-DD")
	}
	if _, err := l.opts.Store.FindStudent(ctx, userID); err != nil {
		return CheckResult{}, err
	}
	recs, err := l.opts.Store.FindRecords(ctx, userID, day)
	if err != nil {
		return CheckResult{}, fmt.Errorf("find records: %w", err)
	}
	var res CheckResult
	for i := range recs {
		rec := recs[i]
		switch rec.Session {
		case session.Morning:
			res.MorningMarked, res.Morning = true, &rec
		case session.Afternoon:
			res.AfternoonMarked, res.Afternoon = true, &rec
		}
	}
	return res, nil
}

// Reset deletes every session recorded for the user on day and returns
// how many were removed. Resetting an empty day is not an error.
func (l *Ledger) Reset(ctx context.Context, userID, day string) (int, error) {
	if _, err := ParseDay(day); err != nil {
		return 0, reject(ReasonInvalidRequest, "date must be YYYY-MM-DD")
	}
	if _, err := l.opts.Store.FindStudent(ctx, userID); err != nil {
		return 0, err
	}
	n, err := l.opts.Store.DeleteRecords(ctx, userID, day)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	l.log.Info("attendance reset", "user", userID, "date", day, "deleted", n)
	if n > 0 {
		l.publish(ctx, EventReset, Event{UserID: userID, Day: day})
	}
	return n, nil
}

// History lists a user's records between from and to inclusive. Empty
// bounds default to the first of the current month and today.
func (l *Ledger) History(ctx context.Context, userID, from, to string) ([]Record, error) {
	now := l.opts.Clock.Now().In(l.opts.Location)
	if from == "" {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, l.opts.Location).Format(DayLayout)
	}
	if to == "" {
		to = now.Format(DayLayout)
	}
	if _, err := ParseDay(from); err != nil {
		return nil, reject(ReasonInvalidRequest, "from must be YYYY-MM-DD")
	}
	if _, err := ParseDay(to); err != nil {
		return nil, reject(ReasonInvalidRequest, "to must be YYYY-MM-DD")
	}
	if from > to {
		return nil, reject(ReasonInvalidRequest, "from must not be after to")
	}
	if _, err := l.opts.Store.FindStudent(ctx, userID); err != nil {
		return nil, err
	}
	recs, err := l.opts.Store.ListRecords(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Student exposes the store lookup for authorization checks.
func (l *Ledger) Student(ctx context.Context, userID string) (Student, error) {
	return l.opts.Store.FindStudent(ctx, userID)
}

// Record loads one attendance record by id.
func (l *Ledger) Record(ctx context.Context, id string) (Record, error) {
	return l.opts.Store.FindRecord(ctx, id)
}

// Correction is an administrative edit of a stored record. Nil fields
// keep their current value.
type Correction struct {
	Day       *string
	Session   *session.ID
	IsPresent *bool
	Note      *string
}

// Correct applies c to the record with the given id. The record keeps
// its owner, photo and coordinates, and (user, day, session) stays unique.
func (l *Ledger) Correct(ctx context.Context, id string, c Correction) (Record, error) {
	rec, err := l.opts.Store.FindRecord(ctx, id)
	if err != nil {
		return Record{}, err
	}
	prev := rec
	if c.Day != nil {
		if _, err := ParseDay(*c.Day); err != nil {
			return Record{}, reject(ReasonInvalidRequest, "date must be YYYY-MM-DD")
		}
		rec.Day = *c.Day
	}
	if c.Session != nil {
		sess, err := session.Parse(string(*c.Session))
		if err != nil {
			return Record{}, reject(ReasonInvalidRequest, "session must be morning or afternoon")
		}
		rec.Session = sess
	}
	if c.IsPresent != nil {
		rec.IsPresent = *c.IsPresent
	}
	if c.Note != nil {
		rec.Note = *c.Note
	}

	saved, err := l.opts.Store.UpdateRecord(ctx, rec)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return Record{}, reject(ReasonDuplicateSession, fmt.Sprintf("Attendance already recorded for %s session on %s.", rec.Session, rec.Day))
		}
		if errors.Is(err, ErrRecordNotFound) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("update record: %w", err)
	}
	l.log.Info("attendance corrected", "record", id, "user", saved.UserID,
		"date", saved.Day, "session", saved.Session, "present", saved.IsPresent)
	if prev.Day != saved.Day {
		l.publish(ctx, EventReset, Event{UserID: prev.UserID, Day: prev.Day})
	}
	l.publish(ctx, EventMarked, Event{UserID: saved.UserID, Day: saved.Day, Session: saved.Session})
	return saved, nil
}
