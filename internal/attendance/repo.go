package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hostelhub/internal/face"
	"hostelhub/internal/session"
	"hostelhub/internal/store"
)

// Repository persists attendance data through database/sql. Queries use
// $n placeholders in ascending order so they run on pgx and sqlite3 alike.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ AdminStore = (*Repository)(nil)

// FindStudent loads a student and their reference embedding.
func (r *Repository) FindStudent(ctx context.Context, userID string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, hostel_block, face_embedding
		FROM students WHERE id = $1
	`, userID)
	var (
		st  Student
		emb sql.NullString
	)
	if err := row.Scan(&st.ID, &st.Name, &st.HostelBlock, &emb); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrUserNotFound
		}
		return Student{}, err
	}
	if emb.Valid && emb.String != "" {
		if err := json.Unmarshal([]byte(emb.String), &st.FaceEmbedding); err != nil {
			return Student{}, fmt.Errorf("decode embedding for %s: %w", userID, err)
		}
	}
	return st, nil
}

// UpsertStudent creates or renames a student without touching the embedding.
func (r *Repository) UpsertStudent(ctx context.Context, st Student) error {
	if st.ID == "" {
		return errors.New("student id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO students (id, name, hostel_block)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, hostel_block = excluded.hostel_block
	`, st.ID, st.Name, st.HostelBlock)
	return err
}

// EnrollFace stores the reference embedding for a student.
func (r *Repository) EnrollFace(ctx context.Context, userID string, emb face.Embedding) error {
	raw, err := json.Marshal(emb)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE students SET face_embedding = $1 WHERE id = $2`, string(raw), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

const recordColumns = `id, user_id, day, session, is_present, photo_ref, latitude, longitude, note, marked_at`

// FindRecords returns every record of a user on one day.
func (r *Repository) FindRecords(ctx context.Context, userID, day string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE user_id = $1 AND day = $2
		ORDER BY marked_at
	`, userID, day)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// InsertRecord writes a new record; the table's unique key decides races.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.MarkedAt.IsZero() {
		rec.MarkedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.UserID, rec.Day, string(rec.Session), rec.IsPresent, rec.PhotoRef, rec.Latitude, rec.Longitude, rec.Note, rec.MarkedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	return rec, nil
}

// FindRecord loads one record by id.
func (r *Repository) FindRecord(ctx context.Context, id string) (Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE id = $1
	`, id)
	if err != nil {
		return Record{}, err
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrRecordNotFound
	}
	return recs[0], nil
}

// UpdateRecord applies a correction; the unique key still guards
// (user, day, session).
func (r *Repository) UpdateRecord(ctx context.Context, rec Record) (Record, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET day = $1, session = $2, is_present = $3, note = $4
		WHERE id = $5
	`, rec.Day, string(rec.Session), rec.IsPresent, rec.Note, rec.ID)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Record{}, ErrDuplicate
		}
		return Record{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, ErrRecordNotFound
	}
	return r.FindRecord(ctx, rec.ID)
}

// DeleteRecords removes all sessions of a user on a day.
func (r *Repository) DeleteRecords(ctx context.Context, userID, day string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE user_id = $1 AND day = $2`, userID, day)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListRecords returns a user's records within an inclusive day range.
func (r *Repository) ListRecords(ctx context.Context, userID, from, to string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE user_id = $1 AND day >= $2 AND day <= $3
		ORDER BY day, session
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ApprovedLeaves returns approved leaves overlapping [from, to].
func (r *Repository) ApprovedLeaves(ctx context.Context, userID, from, to string) ([]Leave, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, from_day, to_day, status
		FROM leaves
		WHERE user_id = $1 AND status = $2 AND from_day <= $3 AND to_day >= $4
		ORDER BY from_day
	`, userID, string(LeaveApproved), to, from)
	if err != nil {
		return nil, err
	}
	return scanLeaves(rows)
}

// ListStudents returns the students of one hostel block without their
// embeddings, ordered by name.
func (r *Repository) ListStudents(ctx context.Context, hostelBlock string) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, hostel_block
		FROM students WHERE hostel_block = $1
		ORDER BY name, id
	`, hostelBlock)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.HostelBlock); err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// BlockRecords returns every record on day for students of a block.
func (r *Repository) BlockRecords(ctx context.Context, hostelBlock, day string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE user_id IN (SELECT id FROM students WHERE hostel_block = $1) AND day = $2
		ORDER BY user_id, session
	`, hostelBlock, day)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// BlockLeaves returns approved leaves overlapping [from, to] for students
// of a block.
func (r *Repository) BlockLeaves(ctx context.Context, hostelBlock, from, to string) ([]Leave, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, from_day, to_day, status
		FROM leaves
		WHERE user_id IN (SELECT id FROM students WHERE hostel_block = $1)
			AND status = $2 AND from_day <= $3 AND to_day >= $4
		ORDER BY user_id, from_day
	`, hostelBlock, string(LeaveApproved), to, from)
	if err != nil {
		return nil, err
	}
	return scanLeaves(rows)
}

// AddLeave records a leave request.
func (r *Repository) AddLeave(ctx context.Context, lv Leave) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leaves (id, user_id, from_day, to_day, status)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), lv.UserID, lv.From, lv.To, string(lv.Status))
	return err
}

// HolidayWindow returns the hostel's holiday window; a missing row is an
// inactive window.
func (r *Repository) HolidayWindow(ctx context.Context, hostelBlock string) (Holiday, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT label, from_day, to_day FROM holidays WHERE hostel_block = $1
	`, hostelBlock)
	var label, from, to sql.NullString
	if err := row.Scan(&label, &from, &to); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Holiday{HostelBlock: hostelBlock}, nil
		}
		return Holiday{}, err
	}
	return Holiday{HostelBlock: hostelBlock, Label: label.String, From: from.String, To: to.String}, nil
}

// SetHoliday replaces the hostel's holiday window.
func (r *Repository) SetHoliday(ctx context.Context, h Holiday) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO holidays (hostel_block, label, from_day, to_day)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hostel_block) DO UPDATE SET label = excluded.label, from_day = excluded.from_day, to_day = excluded.to_day
	`, h.HostelBlock, h.Label, h.From, h.To)
	return err
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var (
			rec      Record
			sess     string
			lat, lng sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Day, &sess, &rec.IsPresent, &rec.PhotoRef, &lat, &lng, &rec.Note, &rec.MarkedAt); err != nil {
			return nil, err
		}
		rec.Session = session.ID(sess)
		if lat.Valid {
			rec.Latitude = &lat.Float64
		}
		if lng.Valid {
			rec.Longitude = &lng.Float64
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanLeaves(rows *sql.Rows) ([]Leave, error) {
	defer rows.Close()
	var res []Leave
	for rows.Next() {
		var (
			lv     Leave
			status string
		)
		if err := rows.Scan(&lv.UserID, &lv.From, &lv.To, &status); err != nil {
			return nil, err
		}
		lv.Status = LeaveStatus(status)
		res = append(res, lv)
	}
	return res, rows.Err()
}
