package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"monview/internal/domain"
	"monview/internal/repository"

	_ "modernc.org/sqlite"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

var _ repository.Repository = (*Repository)(nil)

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS machines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		host TEXT,
		port INTEGER NOT NULL DEFAULT 22,
		user TEXT,
		has_monitoring INTEGER NOT NULL DEFAULT 0,
		probed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		machine_id TEXT NOT NULL,
		metric TEXT NOT NULL,
		operator TEXT NOT NULL,
		value REAL NOT NULL DEFAULT 0,
		action TEXT,
		FOREIGN KEY (machine_id) REFERENCES machines(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT,
		is_plugin INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS metric_machines (
		metric_id TEXT NOT NULL,
		machine_id TEXT NOT NULL,
		PRIMARY KEY (metric_id, machine_id),
		FOREIGN KEY (metric_id) REFERENCES metrics(id) ON DELETE CASCADE,
		FOREIGN KEY (machine_id) REFERENCES machines(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS view_preferences (
		machine_id TEXT PRIMARY KEY,
		data JSON NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rules_machine ON rules(machine_id);
	CREATE INDEX IF NOT EXISTS idx_metric_machines_machine ON metric_machines(machine_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// ListMachines returns all machines ordered by name
func (r *Repository) ListMachines(ctx context.Context) ([]*domain.Machine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, host, port, user, has_monitoring, probed, created_at, updated_at
		FROM machines ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	var machines []*domain.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating machines: %w", err)
	}
	return machines, nil
}

// GetMachine retrieves a single machine by ID
func (r *Repository) GetMachine(ctx context.Context, id string) (*domain.Machine, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, host, port, user, has_monitoring, probed, created_at, updated_at
		FROM machines WHERE id = ?
	`, id)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("machine %s: %w", id, repository.ErrNotFound)
	}
	return m, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMachine(s scanner) (*domain.Machine, error) {
	var (
		m                  domain.Machine
		host, user         sql.NullString
		monitoring, probed int
		created, updated   sql.NullTime
	)
	if err := s.Scan(&m.ID, &m.Name, &host, &m.Port, &user, &monitoring, &probed, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan machine: %w", err)
	}
	m.Host = nullToString(host)
	m.User = nullToString(user)
	m.HasMonitoring = monitoring != 0
	m.Probed = probed != 0
	m.CreatedAt = nullToTime(created)
	m.UpdatedAt = nullToTime(updated)
	return &m, nil
}

// UpsertMachine inserts or updates a machine
func (r *Repository) UpsertMachine(ctx context.Context, m *domain.Machine) error {
	if m.Port == 0 {
		m.Port = 22
	}
	m.UpdatedAt = time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO machines (id, name, host, port, user, has_monitoring, probed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			host = excluded.host,
			port = excluded.port,
			user = excluded.user,
			has_monitoring = excluded.has_monitoring,
			probed = excluded.probed,
			updated_at = excluded.updated_at
	`, m.ID, m.Name, stringToNull(m.Host), m.Port, stringToNull(m.User),
		boolToInt(m.HasMonitoring), boolToInt(m.Probed), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert machine: %w", err)
	}
	return nil
}

// DeleteMachine removes a machine with its rules, associations and preferences
func (r *Repository) DeleteMachine(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM machines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete machine: %w", err)
	}
	if err := expectAffected(res, "machine", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM view_preferences WHERE machine_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return tx.Commit()
}

// ListRules returns all rules
func (r *Repository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, machine_id, metric, operator, value, action FROM rules ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		var (
			rule   domain.Rule
			action sql.NullString
		)
		if err := rows.Scan(&rule.ID, &rule.MachineID, &rule.Metric, &rule.Operator, &rule.Value, &action); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Action = nullToString(action)
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

// UpsertRule inserts or updates a rule
func (r *Repository) UpsertRule(ctx context.Context, rule *domain.Rule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rules (id, machine_id, metric, operator, value, action)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			machine_id = excluded.machine_id,
			metric = excluded.metric,
			operator = excluded.operator,
			value = excluded.value,
			action = excluded.action
	`, rule.ID, rule.MachineID, rule.Metric, rule.Operator, rule.Value, stringToNull(rule.Action))
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule
func (r *Repository) DeleteRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return expectAffected(res, "rule", id)
}

// ListCustomMetrics returns all custom metrics with their associations
func (r *Repository) ListCustomMetrics(ctx context.Context) ([]*domain.Metric, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.name, m.unit, m.is_plugin, GROUP_CONCAT(mm.machine_id)
		FROM metrics m
		LEFT JOIN metric_machines mm ON mm.metric_id = m.id
		GROUP BY m.id
		ORDER BY m.name, m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.Metric
	for rows.Next() {
		var (
			metric   domain.Metric
			unit     sql.NullString
			plugin   int
			machines sql.NullString
		)
		if err := rows.Scan(&metric.ID, &metric.Name, &unit, &plugin, &machines); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		metric.Unit = nullToString(unit)
		metric.IsPlugin = plugin != 0
		metric.Machines = splitList(machines)
		metrics = append(metrics, &metric)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating metrics: %w", err)
	}
	return metrics, nil
}

// UpsertMetric inserts or updates a custom metric and its associations
func (r *Repository) UpsertMetric(ctx context.Context, metric *domain.Metric) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO metrics (id, name, unit, is_plugin)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			is_plugin = excluded.is_plugin
	`, metric.ID, metric.Name, stringToNull(metric.Unit), boolToInt(metric.IsPlugin))
	if err != nil {
		return fmt.Errorf("failed to upsert metric: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM metric_machines WHERE metric_id = ?`, metric.ID); err != nil {
		return fmt.Errorf("failed to clear metric machines: %w", err)
	}
	for _, machineID := range metric.Machines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metric_machines (metric_id, machine_id) VALUES (?, ?)
		`, metric.ID, machineID); err != nil {
			return fmt.Errorf("failed to associate metric: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteMetric removes a custom metric
func (r *Repository) DeleteMetric(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM metrics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete metric: %w", err)
	}
	return expectAffected(res, "metric", id)
}

// AssociateMetric enables a custom metric on a machine
func (r *Repository) AssociateMetric(ctx context.Context, metricID, machineID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metric_machines (metric_id, machine_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, metricID, machineID)
	if err != nil {
		return fmt.Errorf("failed to associate metric: %w", err)
	}
	return nil
}

// DisassociateMetric removes a custom metric from a machine
func (r *Repository) DisassociateMetric(ctx context.Context, metricID, machineID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM metric_machines WHERE metric_id = ? AND machine_id = ?
	`, metricID, machineID)
	if err != nil {
		return fmt.Errorf("failed to disassociate metric: %w", err)
	}
	return expectAffected(res, "metric association", metricID+"/"+machineID)
}

// LoadPreference returns the stored view preference of a machine
func (r *Repository) LoadPreference(ctx context.Context, machineID string) (domain.ViewPreference, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM view_preferences WHERE machine_id = ?
	`, machineID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ViewPreference{}, false, nil
	}
	if err != nil {
		return domain.ViewPreference{}, false, fmt.Errorf("failed to query preference: %w", err)
	}

	var pref domain.ViewPreference
	if err := json.Unmarshal(data, &pref); err != nil {
		return domain.ViewPreference{}, false, fmt.Errorf("failed to unmarshal preference: %w", err)
	}
	return pref.Clone(), true, nil
}

// SavePreferences replaces the stored entries of the given machines
func (r *Repository) SavePreferences(ctx context.Context, entries map[string]domain.ViewPreference) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for machineID, pref := range entries {
		data, err := json.Marshal(pref)
		if err != nil {
			return fmt.Errorf("failed to marshal preference: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO view_preferences (machine_id, data, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(machine_id) DO UPDATE SET
				data = excluded.data,
				updated_at = CURRENT_TIMESTAMP
		`, machineID, data)
		if err != nil {
			return fmt.Errorf("failed to save preference: %w", err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, repository.ErrNotFound)
	}
	return nil
}

func splitList(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return strings.Split(ns.String, ",")
}
