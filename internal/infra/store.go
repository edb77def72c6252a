// Package infra implements infrastructure concerns (persistence, policy
// files).
package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"netwarden/internal/domain"
	"netwarden/internal/usecase"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.IsEncrypted

const storeDBName = "netwarden.db"

// Store implements the telemetry, alert and command-log stores on a single
// SQLite database. When a key is supplied the database is encrypted at
// rest via SQLCipher's PRAGMA key.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the database under dataDir. key may be nil
// for an unencrypted database. Transactions lock immediately so that two
// concurrent drains serialize instead of both reading the same pending
// rows.
func NewStore(dataDir string, key []byte) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	dsn := dbPath + "?_txlock=immediate"
	if len(key) > 0 {
		dsn = fmt.Sprintf("%s&_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
			dsn, hex.EncodeToString(key))
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// createTables creates the schema if it doesn't exist. Timestamps are
// stored as unix nanoseconds.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hostname TEXT NOT NULL,
		bytes_sent INTEGER NOT NULL,
		bytes_recv INTEGER NOT NULL,
		processes TEXT NOT NULL,
		destinations TEXT NOT NULL,
		cpu_percent REAL,
		memory_percent REAL,
		disk_percent REAL,
		active_connections INTEGER,
		upload_rate_kbps REAL,
		download_rate_kbps REAL,
		agent_time TEXT,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_hostname ON snapshots(hostname);
	CREATE INDEX IF NOT EXISTS idx_snapshots_received ON snapshots(received_at);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		hostname TEXT NOT NULL,
		reason TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		snapshot_id INTEGER,
		created_at INTEGER NOT NULL,
		resolved_at INTEGER,
		FOREIGN KEY (snapshot_id) REFERENCES snapshots (id)
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL,
		delivered_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_commands_endpoint_status ON commands(endpoint, status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.TelemetryStore implementation ---

// SaveSnapshot appends a snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) (int64, error) {
	processes, err := json.Marshal(snap.Processes)
	if err != nil {
		return 0, err
	}
	destinations, err := json.Marshal(snap.Destinations)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (
			hostname, bytes_sent, bytes_recv, processes, destinations,
			cpu_percent, memory_percent, disk_percent, active_connections,
			upload_rate_kbps, download_rate_kbps, agent_time, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Hostname, int64(snap.BytesSent), int64(snap.BytesRecv),
		string(processes), string(destinations),
		nullFloat(snap.CPUPercent), nullFloat(snap.MemoryPercent), nullFloat(snap.DiskPercent),
		nullInt(snap.ActiveConnections),
		nullFloat(snap.UploadRateKbps), nullFloat(snap.DownloadRateKbps),
		snap.AgentTime, snap.ReceivedAt.UnixNano(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentSnapshots returns the newest snapshots, newest first.
func (s *Store) RecentSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hostname, bytes_sent, bytes_recv, processes, destinations,
		       cpu_percent, memory_percent, disk_percent, active_connections,
		       upload_rate_kbps, download_rate_kbps, agent_time, received_at
		FROM snapshots ORDER BY received_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		var (
			snap                     domain.Snapshot
			sent, recv, receivedAt   int64
			processes, destinations  string
			cpu, mem, disk, up, down sql.NullFloat64
			conns                    sql.NullInt64
		)
		if err := rows.Scan(&snap.ID, &snap.Hostname, &sent, &recv, &processes, &destinations,
			&cpu, &mem, &disk, &conns, &up, &down, &snap.AgentTime, &receivedAt); err != nil {
			return nil, err
		}
		snap.BytesSent = uint64(sent)
		snap.BytesRecv = uint64(recv)
		if err := json.Unmarshal([]byte(processes), &snap.Processes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(destinations), &snap.Destinations); err != nil {
			return nil, err
		}
		snap.CPUPercent = floatPtr(cpu)
		snap.MemoryPercent = floatPtr(mem)
		snap.DiskPercent = floatPtr(disk)
		snap.ActiveConnections = intPtr(conns)
		snap.UploadRateKbps = floatPtr(up)
		snap.DownloadRateKbps = floatPtr(down)
		snap.ReceivedAt = time.Unix(0, receivedAt).UTC()
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// ActiveHostnames returns endpoints seen in the window, sorted.
func (s *Store) ActiveHostnames(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT hostname FROM snapshots
		WHERE received_at >= ? ORDER BY hostname`, since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// --- domain.AlertStore implementation ---

// CreateAlert inserts a new alert.
func (s *Store) CreateAlert(ctx context.Context, alert *domain.Alert) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (hostname, reason, severity, status, snapshot_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		alert.Hostname, alert.Reason, string(alert.Severity), alert.Status,
		nullInt64(alert.SnapshotID), alert.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Alerts returns alerts newest first.
func (s *Store) Alerts(ctx context.Context, activeOnly bool) ([]domain.Alert, error) {
	query := `SELECT id, hostname, reason, severity, status, snapshot_id, created_at, resolved_at
		FROM alerts`
	if activeOnly {
		query += ` WHERE status = 'active'`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			alert      domain.Alert
			severity   string
			snapshotID sql.NullInt64
			createdAt  int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&alert.ID, &alert.Hostname, &alert.Reason, &severity,
			&alert.Status, &snapshotID, &createdAt, &resolvedAt); err != nil {
			return nil, err
		}
		alert.Severity = domain.Severity(severity)
		alert.SnapshotID = intPtr64(snapshotID)
		alert.CreatedAt = time.Unix(0, createdAt).UTC()
		if resolvedAt.Valid {
			t := time.Unix(0, resolvedAt.Int64).UTC()
			alert.ResolvedAt = &t
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ResolveAlert flips an alert active -> resolved exactly once.
func (s *Store) ResolveAlert(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = 'resolved', resolved_at = ?
		WHERE id = ? AND status = 'active'`,
		time.Now().UTC().UnixNano(), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: alert %d not found or already resolved", domain.ErrNotFound, id)
	}
	return nil
}

// --- domain.CommandLog implementation ---

// Append adds a pending directive to the log.
func (s *Store) Append(ctx context.Context, d *domain.Directive) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (endpoint, action, resource, reason, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.Endpoint, string(d.Action), d.Resource, d.Reason, domain.DeliveryPending,
		d.CreatedAt.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// DrainPending selects and delivers the endpoint's pending directives in a
// single transaction. The immediate lock means a concurrent drain for the
// same endpoint waits and then sees an empty pending set.
func (s *Store) DrainPending(ctx context.Context, endpoint string) ([]domain.Directive, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx, `
		SELECT id, endpoint, action, resource, reason, created_at
		FROM commands
		WHERE endpoint = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC`, endpoint)
	if err != nil {
		return nil, err
	}

	var drained []domain.Directive
	for rows.Next() {
		var (
			d         domain.Directive
			action    string
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.Endpoint, &action, &d.Resource, &d.Reason, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		d.Action = domain.Action(action)
		d.CreatedAt = time.Unix(0, createdAt).UTC()
		drained = append(drained, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(drained) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	ids := make([]string, len(drained))
	args := make([]any, 0, len(drained)+1)
	args = append(args, now.UnixNano())
	for i := range drained {
		ids[i] = "?"
		args = append(args, drained[i].ID)
		drained[i].Status = domain.DeliveryDelivered
		deliveredAt := now
		drained[i].DeliveredAt = &deliveredAt
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE commands SET status = 'delivered', delivered_at = ?
		WHERE id IN (%s) AND status = 'pending'`, strings.Join(ids, ",")), args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return drained, nil
}

// ListByEndpoint returns every resource-bearing directive for the endpoint.
func (s *Store) ListByEndpoint(ctx context.Context, endpoint string) ([]domain.Directive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, action, resource, reason, status, created_at, delivered_at
		FROM commands
		WHERE endpoint = ? AND resource != ''
		ORDER BY created_at ASC, id ASC`, endpoint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDirectives(rows)
}

// Recent returns the newest directives across all endpoints.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Directive, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint, action, resource, reason, status, created_at, delivered_at
		FROM commands ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDirectives(rows)
}

// --- usecase.StatsSource implementation ---

// WeeklyStats runs the grouped aggregations over the trailing window.
func (s *Store) WeeklyStats(ctx context.Context, since time.Time, topN int) (*usecase.WeeklyStats, error) {
	stats := &usecase.WeeklyStats{
		AlertsBySeverity: make(map[domain.Severity]int),
		TopConsumers:     []usecase.HostBandwidth{},
	}
	cutoff := since.UnixNano()

	var sent, recv sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(bytes_sent), SUM(bytes_recv), COUNT(DISTINCT hostname)
		FROM snapshots WHERE received_at >= ?`, cutoff).
		Scan(&sent, &recv, &stats.ActiveEndpoints)
	if err != nil {
		return nil, err
	}
	stats.TotalBytesSent = uint64(sent.Int64)
	stats.TotalBytesRecv = uint64(recv.Int64)

	rows, err := s.db.QueryContext(ctx, `
		SELECT hostname, SUM(bytes_sent), SUM(bytes_recv),
		       SUM(bytes_sent + bytes_recv) AS total
		FROM snapshots WHERE received_at >= ?
		GROUP BY hostname ORDER BY total DESC LIMIT ?`, cutoff, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			hb                  usecase.HostBandwidth
			tsent, trecv, total int64
		)
		if err := rows.Scan(&hb.Hostname, &tsent, &trecv, &total); err != nil {
			return nil, err
		}
		hb.TotalSent = uint64(tsent)
		hb.TotalRecv = uint64(trecv)
		hb.TotalBandwidth = uint64(total)
		stats.TopConsumers = append(stats.TopConsumers, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sevRows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*) FROM alerts
		WHERE created_at >= ? GROUP BY severity`, cutoff)
	if err != nil {
		return nil, err
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var (
			severity string
			count    int
		)
		if err := sevRows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		stats.AlertsBySeverity[domain.Severity(severity)] = count
		stats.AlertCount += count
	}
	return stats, sevRows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path (for tests).
func (s *Store) Path() string {
	return s.dbPath
}

func scanDirectives(rows *sql.Rows) ([]domain.Directive, error) {
	var directives []domain.Directive
	for rows.Next() {
		var (
			d           domain.Directive
			action      string
			createdAt   int64
			deliveredAt sql.NullInt64
		)
		if err := rows.Scan(&d.ID, &d.Endpoint, &action, &d.Resource, &d.Reason,
			&d.Status, &createdAt, &deliveredAt); err != nil {
			return nil, err
		}
		d.Action = domain.Action(action)
		d.CreatedAt = time.Unix(0, createdAt).UTC()
		if deliveredAt.Valid {
			t := time.Unix(0, deliveredAt.Int64).UTC()
			d.DeliveredAt = &t
		}
		directives = append(directives, d)
	}
	return directives, rows.Err()
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func intPtr64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

// Interface conformance checks.
var (
	_ domain.TelemetryStore = (*Store)(nil)
	_ domain.AlertStore     = (*Store)(nil)
	_ domain.CommandLog     = (*Store)(nil)
	_ usecase.StatsSource   = (*Store)(nil)
)
