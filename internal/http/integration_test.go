package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

type studentResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Group  string `json:"group"`
	Course int    `json:"course"`
}

type attendanceResponse struct {
	Hourly map[string]map[string]map[string]string `json:"hourly"`
	Daily  map[string]map[string]string            `json:"daily"`
}

type batchResponse struct {
	Added   int `json:"added"`
	Errors  int `json:"errors"`
	Results []struct {
		Index   int    `json:"index"`
		Success bool   `json:"success"`
		Error   string `json:"error"`
	} `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func TestAttendanceLifecycle(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ATTENDANCE_HTTP_ADDR", "http://127.0.0.1:3000")
	group := uniqueGroup()
	date := "2026-02-10"

	student := createStudent(t, baseURL, "Иванов Иван Иванович", group, 2)

	// Hourly writes are idempotent upserts.
	recordAttendance(t, baseURL, student.ID, date, 1, "present", http.StatusOK)
	recordAttendance(t, baseURL, student.ID, date, 1, "present", http.StatusOK)
	recordAttendance(t, baseURL, student.ID, date, 2, "present", http.StatusOK)
	recordAttendance(t, baseURL, student.ID, date, 3, "absent", http.StatusOK)

	att := getAttendance(t, baseURL)
	if got := att.Hourly[date][student.ID]["1"]; got != "present" {
		t.Fatalf("expected hour 1 present, got %q", got)
	}
	if got := att.Hourly[date][student.ID]["3"]; got != "absent" {
		t.Fatalf("expected hour 3 absent, got %q", got)
	}
	if got := att.Daily[date][student.ID]; got != "present" {
		t.Fatalf("expected daily majority present, got %q", got)
	}

	// Unknown removes the slot instead of storing a row.
	recordAttendance(t, baseURL, student.ID, date, 3, "unknown", http.StatusOK)
	att = getAttendance(t, baseURL)
	if _, ok := att.Hourly[date][student.ID]["3"]; ok {
		t.Fatalf("expected hour 3 removed after unknown write")
	}

	// Whole-day write without an hour fills every slot.
	recordAttendance(t, baseURL, student.ID, "2026-02-11", 0, "absent", http.StatusOK)
	att = getAttendance(t, baseURL)
	if got := len(att.Hourly["2026-02-11"][student.ID]); got != 5 {
		t.Fatalf("expected 5 slots from whole-day write, got %d", got)
	}
	if got := att.Daily["2026-02-11"][student.ID]; got != "absent" {
		t.Fatalf("expected daily absent, got %q", got)
	}

	// Deleting the student cascades into attendance.
	deleteStudent(t, baseURL, student.ID)
	att = getAttendance(t, baseURL)
	if _, ok := att.Hourly[date][student.ID]; ok {
		t.Fatalf("expected attendance removed with student")
	}
}

func TestDayLockGuard(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ATTENDANCE_HTTP_ADDR", "http://127.0.0.1:3000")
	lockedGroup := uniqueGroup()
	openGroup := uniqueGroup()
	date := "2026-02-12"

	locked := createStudent(t, baseURL, "Петров Пётр Петрович", lockedGroup, 3)
	open := createStudent(t, baseURL, "Сидоров Семён Семёнович", openGroup, 3)

	saveDay(t, baseURL, date, lockedGroup)

	// Writes into the locked day and group are refused.
	body := recordAttendance(t, baseURL, locked.ID, date, 1, "present", http.StatusLocked)
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error != "day_locked" {
		t.Fatalf("expected day_locked, got %s", errResp.Error)
	}

	// Other groups and other dates are unaffected.
	recordAttendance(t, baseURL, open.ID, date, 1, "present", http.StatusOK)
	recordAttendance(t, baseURL, locked.ID, "2026-02-13", 1, "present", http.StatusOK)

	deleteStudent(t, baseURL, locked.ID)
	deleteStudent(t, baseURL, open.ID)
}

func TestBatchCreateLimits(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ATTENDANCE_HTTP_ADDR", "http://127.0.0.1:3000")
	group := uniqueGroup()

	// One over the cap is rejected wholesale.
	oversized := make([]map[string]interface{}, 34)
	for i := range oversized {
		oversized[i] = map[string]interface{}{
			"name":   fmt.Sprintf("Студент Номер %02d", i),
			"group":  group,
			"course": 1,
		}
	}
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/students/batch", map[string]interface{}{"students": oversized})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized batch, got %d", resp.StatusCode)
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error != "batch_too_large" {
		t.Fatalf("expected batch_too_large, got %s", errResp.Error)
	}

	// Invalid rows fail individually, valid rows still land.
	mixed := []map[string]interface{}{
		{"name": "Кузнецов Кузьма Кузьмич", "group": group, "course": 2},
		{"name": "", "group": group, "course": 2},
	}
	resp, body = doJSON(t, http.MethodPost, baseURL+"/api/students/batch", map[string]interface{}{"students": mixed})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var batch batchResponse
	if err := json.Unmarshal(body, &batch); err != nil {
		t.Fatalf("decode batch response: %v", err)
	}
	if batch.Added != 1 || batch.Errors != 1 {
		t.Fatalf("expected 1 added and 1 error, got %d/%d", batch.Added, batch.Errors)
	}
	if batch.Results[1].Error != "missing_fields" {
		t.Fatalf("expected per-row missing_fields, got %s", batch.Results[1].Error)
	}

	for _, item := range batch.Results {
		if item.Success {
			deleteStudentByIndex(t, baseURL, group)
		}
	}
}

func TestBlacklistThresholdBoundary(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ATTENDANCE_HTTP_ADDR", "http://127.0.0.1:3000")
	group := uniqueGroup()

	flagged := createStudent(t, baseURL, "Смирнов Сергей Сергеевич", group, 2)
	below := createStudent(t, baseURL, "Орлов Олег Олегович", group, 2)

	// Seven full days inside the trailing window are 35 absent hours each;
	// one extra hour tips the first student onto the blacklist at 36.
	today := time.Now().UTC()
	for i := 1; i <= 7; i++ {
		date := today.AddDate(0, 0, -i).Format("2006-01-02")
		for hour := 1; hour <= 5; hour++ {
			recordAttendance(t, baseURL, flagged.ID, date, hour, "absent", http.StatusOK)
			recordAttendance(t, baseURL, below.ID, date, hour, "absent", http.StatusOK)
		}
	}
	recordAttendance(t, baseURL, flagged.ID, today.AddDate(0, 0, -8).Format("2006-01-02"), 1, "absent", http.StatusOK)

	resp, body := doJSON(t, http.MethodGet, baseURL+"/api/blacklist?group="+group, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("blacklist status %d", resp.StatusCode)
	}
	var entries []struct {
		ID          string `json:"id"`
		AbsentHours int    `json:"absent_hours"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decode blacklist: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one blacklisted student, got %d", len(entries))
	}
	if entries[0].ID != flagged.ID {
		t.Fatalf("expected student %s on blacklist, got %s", flagged.ID, entries[0].ID)
	}
	if entries[0].AbsentHours != 36 {
		t.Fatalf("expected 36 absent hours, got %d", entries[0].AbsentHours)
	}

	deleteStudent(t, baseURL, flagged.ID)
	deleteStudent(t, baseURL, below.ID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ATTENDANCE_HTTP_ADDR", "http://127.0.0.1:3000")

	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/login", map[string]interface{}{
		"username": "admin",
		"password": "definitely-wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", errResp.Error)
	}
}

func TestImportStatusEndpoint(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ATTENDANCE_HTTP_ADDR", "http://127.0.0.1:3000")

	resp, body := doJSON(t, http.MethodGet, baseURL+"/api/import-status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status struct {
		Imported bool `json:"imported"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("decode import status: %v", err)
	}
}

func createStudent(t *testing.T, baseURL, name, group string, course int) studentResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/students", map[string]interface{}{
		"name":   name,
		"group":  group,
		"course": course,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create student status %d: %s", resp.StatusCode, body)
	}
	var student studentResponse
	if err := json.Unmarshal(body, &student); err != nil {
		t.Fatalf("decode student: %v", err)
	}
	if student.ID == "" {
		t.Fatalf("missing student id")
	}
	return student
}

func deleteStudent(t *testing.T, baseURL, studentID string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodDelete, baseURL+"/api/students/"+studentID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete student status %d", resp.StatusCode)
	}
}

// deleteStudentByIndex removes every student of a test group. Batch results
// only report indexes, so cleanup walks the roster.
func deleteStudentByIndex(t *testing.T, baseURL, group string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, baseURL+"/api/students", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list students status %d", resp.StatusCode)
	}
	var students []studentResponse
	if err := json.Unmarshal(body, &students); err != nil {
		t.Fatalf("decode students: %v", err)
	}
	for _, student := range students {
		if student.Group == group {
			deleteStudent(t, baseURL, student.ID)
		}
	}
}

func recordAttendance(t *testing.T, baseURL, studentID, date string, hour int, status string, wantStatus int) []byte {
	t.Helper()
	payload := map[string]interface{}{
		"studentId": studentID,
		"date":      date,
		"status":    status,
	}
	if hour > 0 {
		payload["hour"] = hour
	}
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/attendance", payload)
	if resp.StatusCode != wantStatus {
		t.Fatalf("record attendance status %d, expected %d: %s", resp.StatusCode, wantStatus, body)
	}
	return body
}

func getAttendance(t *testing.T, baseURL string) attendanceResponse {
	t.Helper()
	resp, body := doJSON(t, http.MethodGet, baseURL+"/api/attendance", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get attendance status %d", resp.StatusCode)
	}
	var att attendanceResponse
	if err := json.Unmarshal(body, &att); err != nil {
		t.Fatalf("decode attendance: %v", err)
	}
	return att
}

func saveDay(t *testing.T, baseURL, date, group string) {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/save-day", map[string]interface{}{
		"date":       date,
		"profession": group,
		"savedBy":    "integration",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save day status %d: %s", resp.StatusCode, body)
	}
}

func doJSON(t *testing.T, method, url string, payload map[string]interface{}) (*http.Response, []byte) {
	t.Helper()
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewBuffer(bodyBytes))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, body
}

func uniqueGroup() string {
	return fmt.Sprintf("test-%d", time.Now().UnixNano())
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
