package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"zhurnal/attendance/internal/auth"
	"zhurnal/attendance/internal/config"
	"zhurnal/attendance/internal/db"
	"zhurnal/attendance/internal/events"
	"zhurnal/attendance/internal/importer"
)

const (
	// Hour slots are the teaching periods of one day.
	hourSlotMin = 1
	hourSlotMax = 5

	// Batch insert cap; larger payloads are rejected wholesale.
	maxBatchStudents = 33

	maxImportUpload = 20 << 20
)

type Server struct {
	cfg      config.Config
	store    *db.Store
	events   *events.Broadcaster
	redis    *redis.Client
	validate *validator.Validate
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, store *db.Store, broadcaster *events.Broadcaster, redisClient *redis.Client) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		events:   broadcaster,
		redis:    redisClient,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/students", s.handleListStudents)
		r.Post("/students", s.handleCreateStudent)
		r.Post("/students/batch", s.handleBatchCreateStudents)
		r.Delete("/students/{studentId}", s.handleDeleteStudent)

		r.Get("/attendance", s.handleGetAttendance)
		r.Post("/attendance", s.handleRecordAttendance)
		r.Get("/attendance/period", s.handleGetAttendanceForPeriod)

		r.Get("/absence-reasons", s.handleGetAbsenceReasons)
		r.Post("/absence-reasons", s.handleUpsertAbsenceReason)

		r.Get("/blacklist", s.handleGetBlacklist)

		r.Post("/save-day", s.handleSaveDay)
		r.Get("/saved-days", s.handleGetSavedDays)
		r.Get("/stats/daily/{date}", s.handleGetDailyStats)

		r.Post("/login", s.handleLogin)

		r.Post("/import-students", s.handleImportStudents)
		r.Get("/import-status", s.handleGetImportStatus)

		r.Get("/events", s.handleEvents)
	})

	return r
}

// Models

type studentResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Group     string    `json:"group"`
	Course    int       `json:"course"`
	CreatedAt time.Time `json:"created_at"`
}

type createStudentRequest struct {
	Name   string `json:"name" validate:"required"`
	Group  string `json:"group" validate:"required"`
	Course int    `json:"course" validate:"required,min=1"`
}

type batchCreateStudentsRequest struct {
	Students []createStudentRequest `json:"students"`
}

type batchResultItem struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type batchCreateStudentsResponse struct {
	Added   int               `json:"added"`
	Errors  int               `json:"errors"`
	Results []batchResultItem `json:"results"`
}

type recordAttendanceRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Status    string `json:"status" validate:"required"`
	Hour      *int   `json:"hour"`
}

type attendanceWriteResponse struct {
	Success   bool   `json:"success"`
	StudentID string `json:"studentId"`
	Date      string `json:"date"`
	Status    string `json:"status"`
	Hour      *int   `json:"hour,omitempty"`
}

type absenceReasonRequest struct {
	StudentID string  `json:"studentId" validate:"required"`
	Date      string  `json:"date" validate:"required"`
	Hour      int     `json:"hour" validate:"required"`
	Reason    *string `json:"reason"`
}

type saveDayRequest struct {
	Date       string `json:"date" validate:"required"`
	Profession string `json:"profession" validate:"required"`
	SavedBy    string `json:"savedBy"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type periodStudentResponse struct {
	ID         string                       `json:"id"`
	Name       string                       `json:"name"`
	Group      string                       `json:"group"`
	Course     int                          `json:"course"`
	Attendance map[string]map[string]string `json:"attendance"`
}

type blacklistEntryResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Group       string `json:"group"`
	Course      int    `json:"course"`
	AbsentHours int    `json:"absent_hours"`
}

type groupStatsResponse struct {
	TotalStudents int `json:"total_students"`
	Present       int `json:"present"`
	Absent        int `json:"absent"`
}

// Students

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.Queries.ListStudents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]studentResponse, 0, len(students))
	for _, student := range students {
		resp = append(resp, mapStudent(student))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	student := db.Student{
		ID:        uuid.New(),
		Name:      req.Name,
		GroupName: req.Group,
		Course:    req.Course,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Queries.CreateStudent(r.Context(), student); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := mapStudent(student)
	s.publish(events.StudentAdded, resp)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleBatchCreateStudents(w http.ResponseWriter, r *http.Request) {
	var req batchCreateStudentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if len(req.Students) == 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if len(req.Students) > maxBatchStudents {
		writeError(w, http.StatusBadRequest, "batch_too_large")
		return
	}

	resp := batchCreateStudentsResponse{Results: make([]batchResultItem, 0, len(req.Students))}
	added := make([]studentResponse, 0, len(req.Students))
	err := s.store.WithTx(r.Context(), func(q *db.Queries) error {
		for i, entry := range req.Students {
			if err := s.validate.Struct(entry); err != nil {
				resp.Errors++
				resp.Results = append(resp.Results, batchResultItem{Index: i, Error: "missing_fields"})
				continue
			}
			student := db.Student{
				ID:        uuid.New(),
				Name:      entry.Name,
				GroupName: entry.Group,
				Course:    entry.Course,
				CreatedAt: time.Now().UTC(),
			}
			if err := q.CreateStudent(r.Context(), student); err != nil {
				return err
			}
			resp.Added++
			resp.Results = append(resp.Results, batchResultItem{Index: i, Success: true, ID: student.ID.String()})
			added = append(added, mapStudent(student))
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	for _, student := range added {
		s.publish(events.StudentAdded, student)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := uuid.Parse(chi.URLParam(r, "studentId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	deleted, err := s.store.Queries.DeleteStudent(r.Context(), studentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "student_not_found")
		return
	}
	resp := map[string]string{"deletedId": studentID.String()}
	s.publish(events.StudentDeleted, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Attendance

func (s *Server) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Queries.ListAttendance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	hourly, daily := buildAttendanceProjections(rows)
	writeJSON(w, http.StatusOK, map[string]any{
		"hourly": hourly,
		"daily":  daily,
	})
}

func (s *Server) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req recordAttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	status, err := normalizeStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}
	if req.Hour != nil && (*req.Hour < hourSlotMin || *req.Hour > hourSlotMax) {
		writeError(w, http.StatusBadRequest, "invalid_hour")
		return
	}

	student, err := s.store.Queries.GetStudent(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "student_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// Day-lock guard runs before any mutation.
	locked, err := s.store.Queries.IsDaySaved(r.Context(), date, student.GroupName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if locked {
		writeError(w, http.StatusLocked, "day_locked")
		return
	}

	switch {
	case req.Hour != nil && status == statusUnknown:
		// Unknown is never stored; it removes the slot.
		err = s.store.Queries.DeleteAttendance(r.Context(), studentID, date, *req.Hour)
	case req.Hour != nil:
		err = s.store.Queries.UpsertAttendance(r.Context(), studentID, date, *req.Hour, status)
	default:
		// Legacy whole-day mode: rewrite every slot of the day atomically.
		err = s.store.WithTx(r.Context(), func(q *db.Queries) error {
			if err := q.DeleteAttendanceForDay(r.Context(), studentID, date); err != nil {
				return err
			}
			if status == statusUnknown {
				return nil
			}
			for hour := hourSlotMin; hour <= hourSlotMax; hour++ {
				if err := q.UpsertAttendance(r.Context(), studentID, date, hour, status); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := attendanceWriteResponse{
		Success:   true,
		StudentID: studentID.String(),
		Date:      date,
		Status:    status,
		Hour:      req.Hour,
	}
	s.publish(events.AttendanceUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetAttendanceForPeriod(w http.ResponseWriter, r *http.Request) {
	startDate := r.URL.Query().Get("startDate")
	endDate := r.URL.Query().Get("endDate")
	group := r.URL.Query().Get("group")
	if startDate == "" || endDate == "" {
		writeError(w, http.StatusBadRequest, "missing_date_range")
		return
	}
	start, err := parseDate(startDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	end, err := parseDate(endDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	students, err := s.store.Queries.ListStudentsByGroup(r.Context(), group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	rows, err := s.store.Queries.ListAttendanceInRange(r.Context(), start, end, group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, buildPeriodReport(students, rows))
}

// Absence reasons

func (s *Server) handleGetAbsenceReasons(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Queries.ListAbsenceReasons(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	reasons := make(map[string]map[string]map[string]string)
	for _, row := range rows {
		byStudent, ok := reasons[row.Date]
		if !ok {
			byStudent = make(map[string]map[string]string)
			reasons[row.Date] = byStudent
		}
		studentKey := row.StudentID.String()
		byHour, ok := byStudent[studentKey]
		if !ok {
			byHour = make(map[string]string)
			byStudent[studentKey] = byHour
		}
		byHour[strconv.Itoa(row.Hour)] = row.Reason
	}
	writeJSON(w, http.StatusOK, reasons)
}

func (s *Server) handleUpsertAbsenceReason(w http.ResponseWriter, r *http.Request) {
	var req absenceReasonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_student_id")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	if req.Hour < hourSlotMin || req.Hour > hourSlotMax {
		writeError(w, http.StatusBadRequest, "invalid_hour")
		return
	}
	if _, err := s.store.Queries.GetStudent(r.Context(), studentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "student_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// A cleared reason deletes the row; a reason row only exists while the
	// absence hour has one recorded.
	if req.Reason == nil || *req.Reason == "" {
		err = s.store.Queries.DeleteAbsenceReason(r.Context(), studentID, date, req.Hour)
	} else {
		err = s.store.Queries.UpsertAbsenceReason(r.Context(), studentID, date, req.Hour, *req.Reason)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := map[string]any{
		"success":   true,
		"studentId": studentID.String(),
		"date":      date,
		"hour":      req.Hour,
		"reason":    req.Reason,
	}
	s.publish(events.AbsenceReasonUpdated, resp)
	writeJSON(w, http.StatusOK, resp)
}

// Blacklist

func (s *Server) handleGetBlacklist(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	since := time.Now().UTC().AddDate(0, 0, -db.AbsenceWindowDays).Format(dateLayout)
	entries, err := s.store.Queries.ListAbsenceCountsSince(r.Context(), since, group, db.AbsenceAlertThreshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]blacklistEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, blacklistEntryResponse{
			ID:          entry.Student.ID.String(),
			Name:        entry.Student.Name,
			Group:       entry.Student.GroupName,
			Course:      entry.Student.Course,
			AbsentHours: entry.AbsentHours,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Saved days and stats

func (s *Server) handleSaveDay(w http.ResponseWriter, r *http.Request) {
	var req saveDayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	// Re-saving an already saved day refreshes the saver and timestamp.
	if err := s.store.Queries.SaveDay(r.Context(), date, req.Profession, req.SavedBy); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := map[string]any{
		"success": true,
		"date":    date,
		"group":   req.Profession,
		"savedBy": req.SavedBy,
	}
	s.publish(events.DaySaved, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSavedDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.store.Queries.ListSavedDays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make(map[string]map[string]bool)
	for _, day := range days {
		byGroup, ok := resp[day.Date]
		if !ok {
			byGroup = make(map[string]bool)
			resp[day.Date] = byGroup
		}
		byGroup[day.GroupName] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDailyStats(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	stats, err := s.store.Queries.GetDailyStats(r.Context(), date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	groups := make(map[string]groupStatsResponse, len(stats))
	for _, st := range stats {
		groups[st.GroupName] = groupStatsResponse{
			TotalStudents: st.TotalStudents,
			Present:       st.Present,
			Absent:        st.Absent,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":   date,
		"groups": groups,
	})
}

// Auth

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	user, err := s.store.Queries.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.TokenTTL, auth.Claims{
		UserID:   user.ID.String(),
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": userResponse{
			ID:          user.ID.String(),
			Username:    user.Username,
			Role:        user.Role,
			DisplayName: user.DisplayName,
		},
		"token": token,
	})
}

// Import

func (s *Server) handleImportStudents(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Queries.GetImportStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if status.Imported {
		// One-time gate: a repeated import is a successful no-op.
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"imported": 0,
			"message":  "already_imported",
		})
		return
	}

	if err := r.ParseMultipartForm(maxImportUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	text, err := importer.ExtractDocxText(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document")
		return
	}
	candidates := importer.Parse(text)
	if len(candidates) == 0 {
		writeError(w, http.StatusBadRequest, "import_failed")
		return
	}

	// The whole replacement is one transaction: the new roster and the
	// imported marker land together or not at all. Individual row failures
	// are counted, not fatal.
	imported := 0
	failed := 0
	err = s.store.WithTx(r.Context(), func(q *db.Queries) error {
		if err := q.DeleteAllStudents(r.Context()); err != nil {
			return err
		}
		for _, candidate := range candidates {
			student := db.Student{
				ID:        uuid.New(),
				Name:      candidate.Name,
				GroupName: candidate.Group,
				Course:    candidate.Course,
				CreatedAt: time.Now().UTC(),
			}
			if err := q.CreateStudent(r.Context(), student); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					failed++
					continue
				}
				return err
			}
			imported++
		}
		return q.MarkImported(r.Context())
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := map[string]any{
		"success":  true,
		"imported": imported,
		"errors":   failed,
	}
	s.publish(events.StudentsImported, resp)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetImportStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Queries.GetImportStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported":    status.Imported,
		"imported_at": status.ImportedAt,
	})
}

// Live updates

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.events.Add(conn)
	go func() {
		defer s.events.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := map[string]string{"status": "ok", "database": "up"}
	code := http.StatusOK
	if err := s.store.Pool.Ping(ctx); err != nil {
		resp["status"] = "degraded"
		resp["database"] = "down"
		code = http.StatusServiceUnavailable
	}
	if s.redis != nil {
		resp["redis"] = "up"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			resp["status"] = "degraded"
			resp["redis"] = "down"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

// Aggregation

const (
	statusPresent = "present"
	statusAbsent  = "absent"
	statusUnknown = "unknown"
	statusMixed   = "mixed"
)

const dateLayout = "2006-01-02"

func normalizeStatus(value string) (string, error) {
	switch value {
	case statusPresent, statusAbsent, statusUnknown:
		return value, nil
	default:
		return "", errInvalid
	}
}

// buildAttendanceProjections reduces raw hourly rows into the two projections
// the register client works with: hourly[date][studentId][hour] = status and
// the derived daily[date][studentId] label.
func buildAttendanceProjections(rows []db.AttendanceRow) (map[string]map[string]map[string]string, map[string]map[string]string) {
	hourly := make(map[string]map[string]map[string]string)
	for _, row := range rows {
		byStudent, ok := hourly[row.Date]
		if !ok {
			byStudent = make(map[string]map[string]string)
			hourly[row.Date] = byStudent
		}
		studentKey := row.StudentID.String()
		byHour, ok := byStudent[studentKey]
		if !ok {
			byHour = make(map[string]string)
			byStudent[studentKey] = byHour
		}
		byHour[strconv.Itoa(row.Hour)] = row.Status
	}

	daily := make(map[string]map[string]string)
	for date, byStudent := range hourly {
		for studentKey, byHour := range byStudent {
			present, absent := 0, 0
			for _, status := range byHour {
				switch status {
				case statusPresent:
					present++
				case statusAbsent:
					absent++
				}
			}
			label := dailyStatus(present, absent)
			if label == "" {
				continue
			}
			byStudentDaily, ok := daily[date]
			if !ok {
				byStudentDaily = make(map[string]string)
				daily[date] = byStudentDaily
			}
			byStudentDaily[studentKey] = label
		}
	}
	return hourly, daily
}

// dailyStatus applies the strict-majority rule: more present hours than
// absent means present, the reverse means absent, a non-empty tie is mixed,
// and no counted hours at all means no label.
func dailyStatus(present, absent int) string {
	switch {
	case present > absent:
		return statusPresent
	case absent > present:
		return statusAbsent
	case present+absent > 0:
		return statusMixed
	default:
		return ""
	}
}

func buildPeriodReport(students []db.Student, rows []db.AttendanceRow) []periodStudentResponse {
	byStudent := make(map[string]map[string]map[string]string, len(students))
	resp := make([]periodStudentResponse, 0, len(students))
	for _, student := range students {
		attendance := make(map[string]map[string]string)
		byStudent[student.ID.String()] = attendance
		resp = append(resp, periodStudentResponse{
			ID:         student.ID.String(),
			Name:       student.Name,
			Group:      student.GroupName,
			Course:     student.Course,
			Attendance: attendance,
		})
	}
	for _, row := range rows {
		attendance, ok := byStudent[row.StudentID.String()]
		if !ok {
			continue
		}
		byHour, ok := attendance[row.Date]
		if !ok {
			byHour = make(map[string]string)
			attendance[row.Date] = byHour
		}
		byHour[strconv.Itoa(row.Hour)] = row.Status
	}
	return resp
}

func parseDate(value string) (string, error) {
	parsed, err := time.Parse(dateLayout, value)
	if err != nil {
		return "", err
	}
	return parsed.Format(dateLayout), nil
}

func mapStudent(student db.Student) studentResponse {
	return studentResponse{
		ID:        student.ID.String(),
		Name:      student.Name,
		Group:     student.GroupName,
		Course:    student.Course,
		CreatedAt: student.CreatedAt,
	}
}

// Utilities

var errInvalid = errors.New("invalid value")

// publish runs the broadcast off the request path: the HTTP response never
// waits on subscriber delivery.
func (s *Server) publish(eventType string, data any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.events.Publish(ctx, eventType, data)
	}()
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("response encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
