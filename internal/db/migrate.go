package db

import "context"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		group_name TEXT NOT NULL,
		course INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		date DATE NOT NULL,
		hour INT NOT NULL CHECK (hour BETWEEN 1 AND 5),
		status TEXT NOT NULL CHECK (status IN ('present', 'absent')),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (student_id, date, hour)
	)`,
	`CREATE TABLE IF NOT EXISTS absence_reasons (
		student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		date DATE NOT NULL,
		hour INT NOT NULL CHECK (hour BETWEEN 1 AND 5),
		reason TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (student_id, date, hour)
	)`,
	`CREATE TABLE IF NOT EXISTS saved_days (
		date DATE NOT NULL,
		group_name TEXT NOT NULL,
		saved_by TEXT NOT NULL DEFAULT '',
		saved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (date, group_name)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS import_status (
		id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		imported BOOLEAN NOT NULL DEFAULT false,
		imported_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_date_idx ON attendance_records (date)`,
	`CREATE INDEX IF NOT EXISTS absence_reasons_date_idx ON absence_reasons (date)`,
}

// Migrate applies the schema. Every statement is idempotent so the service
// can run it unconditionally at startup.
func Migrate(ctx context.Context, store *Store) error {
	for _, stmt := range schema {
		if _, err := store.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
