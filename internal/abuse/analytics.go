package abuse

import (
	"context"
	"fmt"
	"time"
)

// TypeCount pairs an abuse type with how many alerts it produced.
type TypeCount struct {
	Type  Type  `json:"type"`
	Count int64 `json:"count"`
}

// TrendBucket is one day of alert volume.
type TrendBucket struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// Analytics summarizes the alert set over a time window.
type Analytics struct {
	WindowDays     int                `json:"windowDays"`
	TotalAlerts    int64              `json:"totalAlerts"`
	OpenAlerts     int64              `json:"openAlerts"`
	ResolvedAlerts int64              `json:"resolvedAlerts"`
	AlertsPerDay   float64            `json:"alertsPerDay"`
	BySeverity     map[Severity]int64 `json:"bySeverity"`
	TopTypes       []TypeCount        `json:"topTypes"`
	DailyTrend     []TrendBucket      `json:"dailyTrend"`
}

// ComputeAnalytics recomputes alert analytics over the last windowDays.
func (s *Store) ComputeAnalytics(ctx context.Context, windowDays int) (*Analytics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := s.now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)

	a := &Analytics{
		WindowDays: windowDays,
		BySeverity: make(map[Severity]int64),
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'open' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'resolved' THEN 1 ELSE 0 END), 0)
		 FROM alerts WHERE created_at >= ?`, since).
		Scan(&a.TotalAlerts, &a.OpenAlerts, &a.ResolvedAlerts)
	if err != nil {
		return nil, fmt.Errorf("alert totals: %w", err)
	}
	a.AlertsPerDay = float64(a.TotalAlerts) / float64(windowDays)

	rows, err := s.db.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM alerts WHERE created_at >= ? GROUP BY severity`, since)
	if err != nil {
		return nil, fmt.Errorf("severity distribution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var severity Severity
		var count int64
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("scan severity bucket: %w", err)
		}
		a.BySeverity[severity] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) AS n FROM alerts WHERE created_at >= ?
		 GROUP BY type ORDER BY n DESC, type LIMIT 5`, since)
	if err != nil {
		return nil, fmt.Errorf("top types: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var tc TypeCount
		if err := typeRows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan type bucket: %w", err)
		}
		a.TopTypes = append(a.TopTypes, tc)
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	trendRows, err := s.db.QueryContext(ctx,
		`SELECT date(created_at), COUNT(*) FROM alerts WHERE created_at >= ?
		 GROUP BY date(created_at) ORDER BY date(created_at)`, since)
	if err != nil {
		return nil, fmt.Errorf("daily trend: %w", err)
	}
	defer trendRows.Close()
	for trendRows.Next() {
		var b TrendBucket
		if err := trendRows.Scan(&b.Day, &b.Count); err != nil {
			return nil, fmt.Errorf("scan trend bucket: %w", err)
		}
		a.DailyTrend = append(a.DailyTrend, b)
	}
	return a, trendRows.Err()
}
