package jobs

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"zhurnal/attendance/internal/db"
)

var blacklistGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "attendance_blacklist_students",
	Help: "Number of students at or over the absence alert threshold in the trailing window.",
})

// StartBlacklistGaugeJob periodically recomputes the blacklist size and
// exports it as a gauge so the dashboard sees problem students without
// polling the API.
func StartBlacklistGaugeJob(ctx context.Context, store *db.Store, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		refresh(ctx, store)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh(ctx, store)
			}
		}
	}()
}

func refresh(ctx context.Context, store *db.Store) {
	tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	since := time.Now().UTC().AddDate(0, 0, -db.AbsenceWindowDays).Format("2006-01-02")
	entries, err := store.Queries.ListAbsenceCountsSince(tickCtx, since, "", db.AbsenceAlertThreshold)
	if err != nil {
		log.Printf("blacklist gauge refresh error: %v", err)
		return
	}
	blacklistGauge.Set(float64(len(entries)))
}
