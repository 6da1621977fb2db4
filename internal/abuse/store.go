package abuse

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists rules and alerts in a local sqlite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens (creating if needed) the abuse database at dbPath and
// runs pending migrations.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open abuse db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping abuse db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate abuse db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// SetClock overrides the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// ---- rules ----

const ruleCols = `id, name, type, conditions, actions, severity, confidence, enabled, trigger_count, created_at, updated_at`

func scanRule(scanner interface{ Scan(...any) error }) (*Rule, error) {
	var r Rule
	var conditions, actions string
	var enabled int

	err := scanner.Scan(
		&r.ID, &r.Name, &r.Type, &conditions, &actions,
		&r.Severity, &r.Confidence, &enabled, &r.TriggerCount,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
		return nil, fmt.Errorf("decode rule conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("decode rule actions: %w", err)
	}
	return &r, nil
}

// CreateRule validates and inserts a rule, assigning its ID and timestamps.
func (s *Store) CreateRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	rule.ID = uuid.NewString()
	rule.CreatedAt = s.now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	rule.TriggerCount = 0

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("encode rule actions: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules (`+ruleCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Name, rule.Type, string(conditions), string(actions),
		rule.Severity, rule.Confidence, enabled, rule.TriggerCount,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// UpdateRule validates and replaces an existing rule's mutable fields.
func (s *Store) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	rule.UpdatedAt = s.now().UTC()

	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode rule conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("encode rule actions: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE rules SET name = ?, type = ?, conditions = ?, actions = ?, severity = ?, confidence = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		rule.Name, rule.Type, string(conditions), string(actions),
		rule.Severity, rule.Confidence, enabled, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule by ID.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// GetRule fetches one rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleCols+` FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// ListRules returns all rules, newest first.
func (s *Store) ListRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleCols+` FROM rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// EnabledRules returns only rules eligible for matching.
func (s *Store) EnabledRules(ctx context.Context) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleCols+` FROM rules WHERE enabled = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// RecordTrigger increments a rule's trigger counter.
func (s *Store) RecordTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET trigger_count = trigger_count + 1, updated_at = ? WHERE id = ?`,
		s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record rule trigger: %w", err)
	}
	return nil
}

// ---- alerts ----

const alertCols = `id, rule_id, user_id, device_id, license_id, type, severity, confidence, risk_score, evidence, status, created_at, resolved_at, resolution`

func scanAlert(scanner interface{ Scan(...any) error }) (*Alert, error) {
	var a Alert
	var evidence string
	var resolvedAt sql.NullTime

	err := scanner.Scan(
		&a.ID, &a.RuleID, &a.UserID, &a.DeviceID, &a.LicenseID,
		&a.Type, &a.Severity, &a.Confidence, &a.RiskScore,
		&evidence, &a.Status, &a.CreatedAt, &resolvedAt, &a.Resolution,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
		return nil, fmt.Errorf("decode alert evidence: %w", err)
	}
	return &a, nil
}

// CreateAlert inserts a new open alert, assigning its ID and timestamp.
func (s *Store) CreateAlert(ctx context.Context, alert *Alert) error {
	alert.ID = uuid.NewString()
	alert.Status = AlertOpen
	alert.CreatedAt = s.now().UTC()

	evidence, err := json.Marshal(alert.Evidence)
	if err != nil {
		return fmt.Errorf("encode alert evidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.RuleID, alert.UserID, alert.DeviceID, alert.LicenseID,
		alert.Type, alert.Severity, alert.Confidence, alert.RiskScore,
		string(evidence), alert.Status, alert.CreatedAt, nil, alert.Resolution,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetAlert fetches one alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts newest first, optionally filtered by status.
func (s *Store) ListAlerts(ctx context.Context, status AlertStatus) ([]*Alert, error) {
	query := `SELECT ` + alertCols + ` FROM alerts ORDER BY created_at DESC`
	args := []any{}
	if status != "" {
		query = `SELECT ` + alertCols + ` FROM alerts WHERE status = ? ORDER BY created_at DESC`
		args = append(args, status)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ResolveAlert transitions an open alert to resolved with the given
// resolution note. Resolving an already-resolved alert is an error.
func (s *Store) ResolveAlert(ctx context.Context, id, resolution string) (*Alert, error) {
	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, resolved_at = ?, resolution = ? WHERE id = ? AND status = ?`,
		AlertResolved, now, resolution, id, AlertOpen)
	if err != nil {
		return nil, fmt.Errorf("resolve alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, getErr := s.GetAlert(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("alert %s is already resolved", id)
	}
	return s.GetAlert(ctx, id)
}
