package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Blacklist policy: students with at least AbsenceAlertThreshold absent hours
// over the trailing AbsenceWindowDays calendar days. Fixed by the register's
// rules, not configuration.
const (
	AbsenceWindowDays     = 30
	AbsenceAlertThreshold = 36
)

type Student struct {
	ID        uuid.UUID
	Name      string
	GroupName string
	Course    int
	CreatedAt time.Time
}

type AttendanceRow struct {
	StudentID uuid.UUID
	Date      string
	Hour      int
	Status    string
}

type AbsenceReasonRow struct {
	StudentID uuid.UUID
	Date      string
	Hour      int
	Reason    string
}

type SavedDay struct {
	Date      string
	GroupName string
	SavedBy   string
	SavedAt   time.Time
}

type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         string
	DisplayName  string
	CreatedAt    time.Time
}

type ImportStatus struct {
	Imported   bool
	ImportedAt *time.Time
}

type BlacklistEntry struct {
	Student     Student
	AbsentHours int
}

type GroupDayStats struct {
	GroupName     string
	TotalStudents int
	Present       int
	Absent        int
}

// Students

func (q *Queries) ListStudents(ctx context.Context) ([]Student, error) {
	return q.ListStudentsByGroup(ctx, "")
}

// ListStudentsByGroup lists students ordered by group then name. An empty
// group matches everyone.
func (q *Queries) ListStudentsByGroup(ctx context.Context, groupName string) ([]Student, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, group_name, course, created_at
		FROM students
		WHERE $1 = '' OR group_name = $1
		ORDER BY group_name, name
	`, groupName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudents(rows)
}

func (q *Queries) GetStudent(ctx context.Context, id uuid.UUID) (Student, error) {
	var s Student
	row := q.db.QueryRow(ctx, `
		SELECT id, name, group_name, course, created_at
		FROM students
		WHERE id = $1
	`, id)
	err := row.Scan(&s.ID, &s.Name, &s.GroupName, &s.Course, &s.CreatedAt)
	return s, err
}

func (q *Queries) CreateStudent(ctx context.Context, s Student) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO students (id, name, group_name, course, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID, s.Name, s.GroupName, s.Course, s.CreatedAt)
	return err
}

// DeleteStudent removes the student row; attendance and absence-reason rows
// go with it through the ON DELETE CASCADE constraints.
func (q *Queries) DeleteStudent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Queries) DeleteAllStudents(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `DELETE FROM students`)
	return err
}

func scanStudents(rows pgx.Rows) ([]Student, error) {
	students := make([]Student, 0)
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.GroupName, &s.Course, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// Attendance

func (q *Queries) UpsertAttendance(ctx context.Context, studentID uuid.UUID, date string, hour int, status string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO attendance_records (student_id, date, hour, status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (student_id, date, hour)
		DO UPDATE SET status = EXCLUDED.status, updated_at = now()
	`, studentID, date, hour, status)
	return err
}

func (q *Queries) DeleteAttendance(ctx context.Context, studentID uuid.UUID, date string, hour int) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM attendance_records
		WHERE student_id = $1 AND date = $2 AND hour = $3
	`, studentID, date, hour)
	return err
}

func (q *Queries) DeleteAttendanceForDay(ctx context.Context, studentID uuid.UUID, date string) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM attendance_records
		WHERE student_id = $1 AND date = $2
	`, studentID, date)
	return err
}

func (q *Queries) ListAttendance(ctx context.Context) ([]AttendanceRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT student_id, to_char(date, 'YYYY-MM-DD'), hour, status
		FROM attendance_records
		ORDER BY date, student_id, hour
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttendance(rows)
}

func (q *Queries) ListAttendanceInRange(ctx context.Context, startDate, endDate, groupName string) ([]AttendanceRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT a.student_id, to_char(a.date, 'YYYY-MM-DD'), a.hour, a.status
		FROM attendance_records a
		JOIN students s ON s.id = a.student_id
		WHERE a.date BETWEEN $1 AND $2
		  AND ($3 = '' OR s.group_name = $3)
		ORDER BY a.date, a.student_id, a.hour
	`, startDate, endDate, groupName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttendance(rows)
}

func scanAttendance(rows pgx.Rows) ([]AttendanceRow, error) {
	records := make([]AttendanceRow, 0)
	for rows.Next() {
		var rec AttendanceRow
		if err := rows.Scan(&rec.StudentID, &rec.Date, &rec.Hour, &rec.Status); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Absence reasons

func (q *Queries) UpsertAbsenceReason(ctx context.Context, studentID uuid.UUID, date string, hour int, reason string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO absence_reasons (student_id, date, hour, reason, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (student_id, date, hour)
		DO UPDATE SET reason = EXCLUDED.reason, updated_at = now()
	`, studentID, date, hour, reason)
	return err
}

func (q *Queries) DeleteAbsenceReason(ctx context.Context, studentID uuid.UUID, date string, hour int) error {
	_, err := q.db.Exec(ctx, `
		DELETE FROM absence_reasons
		WHERE student_id = $1 AND date = $2 AND hour = $3
	`, studentID, date, hour)
	return err
}

func (q *Queries) ListAbsenceReasons(ctx context.Context) ([]AbsenceReasonRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT student_id, to_char(date, 'YYYY-MM-DD'), hour, reason
		FROM absence_reasons
		ORDER BY date, student_id, hour
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reasons := make([]AbsenceReasonRow, 0)
	for rows.Next() {
		var rec AbsenceReasonRow
		if err := rows.Scan(&rec.StudentID, &rec.Date, &rec.Hour, &rec.Reason); err != nil {
			return nil, err
		}
		reasons = append(reasons, rec)
	}
	return reasons, rows.Err()
}

// Saved days

func (q *Queries) SaveDay(ctx context.Context, date, groupName, savedBy string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO saved_days (date, group_name, saved_by, saved_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (date, group_name)
		DO UPDATE SET saved_by = EXCLUDED.saved_by, saved_at = now()
	`, date, groupName, savedBy)
	return err
}

func (q *Queries) IsDaySaved(ctx context.Context, date, groupName string) (bool, error) {
	var saved bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM saved_days WHERE date = $1 AND group_name = $2
		)
	`, date, groupName).Scan(&saved)
	return saved, err
}

func (q *Queries) ListSavedDays(ctx context.Context) ([]SavedDay, error) {
	rows, err := q.db.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), group_name, saved_by, saved_at
		FROM saved_days
		ORDER BY date, group_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	days := make([]SavedDay, 0)
	for rows.Next() {
		var d SavedDay
		if err := rows.Scan(&d.Date, &d.GroupName, &d.SavedBy, &d.SavedAt); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// Blacklist and stats

func (q *Queries) ListAbsenceCountsSince(ctx context.Context, since string, groupName string, threshold int) ([]BlacklistEntry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT s.id, s.name, s.group_name, s.course, s.created_at, count(*) AS absent_hours
		FROM attendance_records a
		JOIN students s ON s.id = a.student_id
		WHERE a.status = 'absent'
		  AND a.date >= $1
		  AND ($2 = '' OR s.group_name = $2)
		GROUP BY s.id, s.name, s.group_name, s.course, s.created_at
		HAVING count(*) >= $3
		ORDER BY absent_hours DESC
	`, since, groupName, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]BlacklistEntry, 0)
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.Student.ID, &e.Student.Name, &e.Student.GroupName, &e.Student.Course, &e.Student.CreatedAt, &e.AbsentHours); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetDailyStats counts, per group, distinct students with at least one hour
// of each status on the given date.
func (q *Queries) GetDailyStats(ctx context.Context, date string) ([]GroupDayStats, error) {
	rows, err := q.db.Query(ctx, `
		SELECT s.group_name,
		       count(DISTINCT s.id) AS total_students,
		       count(DISTINCT s.id) FILTER (WHERE a.status = 'present') AS present,
		       count(DISTINCT s.id) FILTER (WHERE a.status = 'absent') AS absent
		FROM students s
		LEFT JOIN attendance_records a ON a.student_id = s.id AND a.date = $1
		GROUP BY s.group_name
		ORDER BY s.group_name
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := make([]GroupDayStats, 0)
	for rows.Next() {
		var st GroupDayStats
		if err := rows.Scan(&st.GroupName, &st.TotalStudents, &st.Present, &st.Absent); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Users

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	row := q.db.QueryRow(ctx, `
		SELECT id, username, password_hash, role, display_name, created_at
		FROM users
		WHERE username = $1
	`, username)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.DisplayName, &u.CreatedAt)
	return u, err
}

func (q *Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, role, display_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.PasswordHash, u.Role, u.DisplayName, u.CreatedAt)
	return err
}

func (q *Queries) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count)
	return count, err
}

// Import status

func (q *Queries) GetImportStatus(ctx context.Context) (ImportStatus, error) {
	var status ImportStatus
	err := q.db.QueryRow(ctx, `
		SELECT imported, imported_at FROM import_status WHERE id = 1
	`).Scan(&status.Imported, &status.ImportedAt)
	if err == pgx.ErrNoRows {
		return ImportStatus{}, nil
	}
	return status, err
}

func (q *Queries) MarkImported(ctx context.Context) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO import_status (id, imported, imported_at)
		VALUES (1, true, now())
		ON CONFLICT (id)
		DO UPDATE SET imported = true, imported_at = now()
	`)
	return err
}
