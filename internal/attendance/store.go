package attendance

import (
	"context"

	"hostelhub/internal/face"
)

// Store is the persistence the ledger and statistics depend on. Day
// arguments are YYYY-MM-DD strings.
type Store interface {
	FindStudent(ctx context.Context, userID string) (Student, error)
	FindRecords(ctx context.Context, userID, day string) ([]Record, error)
	FindRecord(ctx context.Context, id string) (Record, error)
	// InsertRecord returns ErrDuplicate when (user, day, session) exists.
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	// UpdateRecord rewrites day, session, presence and note of an existing
	// record. It returns ErrRecordNotFound for an unknown id and
	// ErrDuplicate when the new (user, day, session) is taken.
	UpdateRecord(ctx context.Context, rec Record) (Record, error)
	DeleteRecords(ctx context.Context, userID, day string) (int, error)
	ListRecords(ctx context.Context, userID, from, to string) ([]Record, error)
	ApprovedLeaves(ctx context.Context, userID, from, to string) ([]Leave, error)
	HolidayWindow(ctx context.Context, hostelBlock string) (Holiday, error)

	// Block-wide reads for the daily roster.
	ListStudents(ctx context.Context, hostelBlock string) ([]Student, error)
	BlockRecords(ctx context.Context, hostelBlock, day string) ([]Record, error)
	BlockLeaves(ctx context.Context, hostelBlock, from, to string) ([]Leave, error)
}

// AdminStore is written by the privileged tooling only.
type AdminStore interface {
	Store
	UpsertStudent(ctx context.Context, st Student) error
	EnrollFace(ctx context.Context, userID string, emb face.Embedding) error
	AddLeave(ctx context.Context, lv Leave) error
	SetHoliday(ctx context.Context, h Holiday) error
}
