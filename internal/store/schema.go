package store

import (
	"context"
	"database/sql"
	"strings"
)

// Days are stored as YYYY-MM-DD text on both drivers so range filters
// compare lexically and no time zone is ever attached to a calendar day.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS students (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	hostel_block   TEXT NOT NULL DEFAULT '',
	face_embedding TEXT
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	day        TEXT NOT NULL,
	session    TEXT NOT NULL,
	is_present BOOLEAN NOT NULL,
	photo_ref  TEXT NOT NULL DEFAULT '',
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION,
	note       TEXT NOT NULL DEFAULT '',
	marked_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, day, session)
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_user_day ON attendance_records(user_id, day);

CREATE TABLE IF NOT EXISTS leaves (
	id       TEXT PRIMARY KEY,
	user_id  TEXT NOT NULL,
	from_day TEXT NOT NULL,
	to_day   TEXT NOT NULL,
	status   TEXT NOT NULL DEFAULT 'pending'
);

CREATE INDEX IF NOT EXISTS idx_leaves_user ON leaves(user_id);

CREATE TABLE IF NOT EXISTS holidays (
	hostel_block TEXT PRIMARY KEY,
	label        TEXT,
	from_day     TEXT,
	to_day       TEXT
);
`

func sqliteSchema() string {
	r := strings.NewReplacer(
		"DOUBLE PRECISION", "REAL",
		"TIMESTAMPTZ", "DATETIME",
		"DEFAULT NOW()", "DEFAULT CURRENT_TIMESTAMP",
	)
	return r.Replace(postgresSchema)
}

func migrate(ctx context.Context, db *sql.DB, driver string) error {
	schema := postgresSchema
	if driver == DriverSQLite {
		schema = sqliteSchema()
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}
