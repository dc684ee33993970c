package http

import (
	"testing"

	"github.com/google/uuid"

	"zhurnal/attendance/internal/db"
)

func TestNormalizeStatus(t *testing.T) {
	valid := []string{"present", "absent", "unknown"}
	for _, status := range valid {
		if _, err := normalizeStatus(status); err != nil {
			t.Fatalf("expected status %s to be valid", status)
		}
	}
	if _, err := normalizeStatus("late"); err == nil {
		t.Fatalf("expected invalid status to error")
	}
	if _, err := normalizeStatus(""); err == nil {
		t.Fatalf("expected empty status to error")
	}
}

func TestDailyStatusMajorityRule(t *testing.T) {
	cases := []struct {
		present int
		absent  int
		expect  string
	}{
		{2, 1, "present"},
		{1, 2, "absent"},
		{1, 1, "mixed"},
		{2, 2, "mixed"},
		{0, 0, ""},
		{5, 0, "present"},
		{0, 3, "absent"},
	}
	for _, tc := range cases {
		if got := dailyStatus(tc.present, tc.absent); got != tc.expect {
			t.Fatalf("dailyStatus(%d, %d) = %q, expected %q", tc.present, tc.absent, got, tc.expect)
		}
	}
}

func TestBuildAttendanceProjections(t *testing.T) {
	studentID := uuid.New()
	otherID := uuid.New()
	rows := []db.AttendanceRow{
		{StudentID: studentID, Date: "2026-02-10", Hour: 1, Status: "present"},
		{StudentID: studentID, Date: "2026-02-10", Hour: 2, Status: "present"},
		{StudentID: studentID, Date: "2026-02-10", Hour: 3, Status: "absent"},
		{StudentID: otherID, Date: "2026-02-10", Hour: 1, Status: "present"},
		{StudentID: otherID, Date: "2026-02-10", Hour: 2, Status: "absent"},
		{StudentID: studentID, Date: "2026-02-11", Hour: 1, Status: "absent"},
	}

	hourly, daily := buildAttendanceProjections(rows)

	if got := hourly["2026-02-10"][studentID.String()]["3"]; got != "absent" {
		t.Fatalf("expected hourly slot 3 absent, got %q", got)
	}
	if got := daily["2026-02-10"][studentID.String()]; got != "present" {
		t.Fatalf("expected majority present, got %q", got)
	}
	if got := daily["2026-02-10"][otherID.String()]; got != "mixed" {
		t.Fatalf("expected tie to be mixed, got %q", got)
	}
	if got := daily["2026-02-11"][studentID.String()]; got != "absent" {
		t.Fatalf("expected single absent hour to be absent, got %q", got)
	}
}

func TestBuildAttendanceProjectionsNoHoursNoEntry(t *testing.T) {
	hourly, daily := buildAttendanceProjections(nil)
	if len(hourly) != 0 || len(daily) != 0 {
		t.Fatalf("expected empty projections, got %v / %v", hourly, daily)
	}
}

func TestBuildPeriodReportIncludesStudentsWithoutRows(t *testing.T) {
	withRows := db.Student{ID: uuid.New(), Name: "Иванов Иван", GroupName: "09.02.07", Course: 2}
	withoutRows := db.Student{ID: uuid.New(), Name: "Петров Пётр", GroupName: "09.02.07", Course: 2}
	rows := []db.AttendanceRow{
		{StudentID: withRows.ID, Date: "2026-02-10", Hour: 1, Status: "absent"},
	}

	report := buildPeriodReport([]db.Student{withRows, withoutRows}, rows)
	if len(report) != 2 {
		t.Fatalf("expected 2 students in report, got %d", len(report))
	}
	if report[0].Attendance["2026-02-10"]["1"] != "absent" {
		t.Fatalf("expected recorded hour in report, got %v", report[0].Attendance)
	}
	if report[1].Attendance == nil {
		t.Fatalf("attendance map must be present even when empty")
	}
	if len(report[1].Attendance) != 0 {
		t.Fatalf("expected empty attendance map, got %v", report[1].Attendance)
	}
}

func TestParseDate(t *testing.T) {
	if _, err := parseDate("2026-02-10"); err != nil {
		t.Fatalf("expected valid date, got %v", err)
	}
	for _, bad := range []string{"", "10.02.2026", "2026-13-01", "not-a-date"} {
		if _, err := parseDate(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
