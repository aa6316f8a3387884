package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDashboardExists is returned when a dashboard with the same name is
// already running in the same (channel, topic).
var ErrDashboardExists = errors.New("store: dashboard already exists in this location")

// ErrDashboardNotFound is returned when no dashboard matches the lookup.
var ErrDashboardNotFound = errors.New("store: dashboard not found")

// Dashboard is a persisted dashboard instance: a named producer bound
// to one (channel, topic) with a pinned message.
type Dashboard struct {
	ID           int64
	Name         string
	Channel      string
	Topic        string
	MessageID    int64
	Interval     time.Duration
	Params       string
	Bootstrapped bool
	CreatedAt    time.Time
}

const dashboardColumns = `id, name, channel, topic, message_id,
	interval_seconds, COALESCE(params, ''), bootstrapped, created_at`

func scanDashboard(row interface{ Scan(...any) error }) (Dashboard, error) {
	var (
		d            Dashboard
		seconds      int64
		bootstrapped int
		createdAt    string
	)
	err := row.Scan(&d.ID, &d.Name, &d.Channel, &d.Topic, &d.MessageID,
		&seconds, &d.Params, &bootstrapped, &createdAt)
	if err != nil {
		return Dashboard{}, err
	}
	d.Interval = time.Duration(seconds) * time.Second
	d.Bootstrapped = bootstrapped != 0
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return d, nil
}

// CreateDashboard persists a new instance (bootstrapped=false).
// Returns ErrDashboardExists on a duplicate (name, channel, topic).
func (s *Store) CreateDashboard(ctx context.Context, d *Dashboard) error {
	d.Bootstrapped = false
	d.CreatedAt = time.Now().UTC().Truncate(time.Second)

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO dashboards (name, channel, topic, message_id, interval_seconds, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Channel, d.Topic, d.MessageID,
		int64(d.Interval/time.Second), d.Params, d.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDashboardExists
		}
		return fmt.Errorf("insert dashboard: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("dashboard id: %w", err)
	}
	return nil
}

// GetDashboard fetches an instance by id.
func (s *Store) GetDashboard(ctx context.Context, id int64) (Dashboard, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+dashboardColumns+` FROM dashboards WHERE id = ?`, id)
	d, err := scanDashboard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dashboard{}, ErrDashboardNotFound
	}
	return d, err
}

// ListDashboards returns all persisted instances.
func (s *Store) ListDashboards(ctx context.Context) ([]Dashboard, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+dashboardColumns+` FROM dashboards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer rows.Close()

	var out []Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DashboardsIn returns the instances running in (channel, topic),
// optionally filtered by name (empty name matches all).
func (s *Store) DashboardsIn(ctx context.Context, channel, topic, name string) ([]Dashboard, error) {
	query := `SELECT ` + dashboardColumns + ` FROM dashboards WHERE channel = ? AND topic = ?`
	args := []any{channel, topic}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	rows, err := s.DB.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list dashboards in location: %w", err)
	}
	defer rows.Close()

	var out []Dashboard
	for rows.Next() {
		d, err := scanDashboard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkBootstrapped flips the bootstrapped flag after the first tick.
func (s *Store) MarkBootstrapped(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE dashboards SET bootstrapped = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark bootstrapped: %w", err)
	}
	return nil
}

// DeleteDashboard removes an instance. Its feed-item markers cascade.
func (s *Store) DeleteDashboard(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM dashboards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dashboard: %w", err)
	}
	return nil
}

// MarkSeen records a feed item as surfaced for a dashboard instance.
// The insert itself is the de-duplication test: it returns true exactly
// once per (dashboard, guid) pair.
func (s *Store) MarkSeen(ctx context.Context, dashboardID int64, guid string) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO feed_items (dashboard_id, guid) VALUES (?, ?)`,
		dashboardID, guid)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark seen rows: %w", err)
	}
	return n > 0, nil
}

// SeenCount returns how many items a dashboard instance has surfaced.
func (s *Store) SeenCount(ctx context.Context, dashboardID int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feed_items WHERE dashboard_id = ?`, dashboardID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("seen count: %w", err)
	}
	return n, nil
}
