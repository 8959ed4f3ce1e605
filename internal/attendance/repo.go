package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Dialect captures what differs between the SQL backends.
type Dialect struct {
	// Driver is the database/sql driver name, also used to pick the bind style.
	Driver     string
	schema     []string
	dayExpr    string
	encodeTime func(time.Time) any
}

// Postgres stores instants as timestamptz. Used with the pgx stdlib driver.
var Postgres = Dialect{
	Driver: "pgx",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL,
			device_name TEXT,
			occurred_at TIMESTAMPTZ NOT NULL,
			battery     DOUBLE PRECISION,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS attendance_records_device_id_idx ON attendance_records (device_id)`,
		`CREATE INDEX IF NOT EXISTS attendance_records_occurred_at_idx ON attendance_records (occurred_at DESC)`,
	},
	dayExpr:    `to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')`,
	encodeTime: func(t time.Time) any { return t.UTC() },
}

// SQLite stores instants as unix milliseconds so range checks stay numeric.
var SQLite = Dialect{
	Driver: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL,
			device_name TEXT,
			occurred_at INTEGER NOT NULL,
			battery     REAL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS attendance_records_device_id_idx ON attendance_records (device_id)`,
		`CREATE INDEX IF NOT EXISTS attendance_records_occurred_at_idx ON attendance_records (occurred_at)`,
	},
	dayExpr:    `strftime('%Y-%m-%d', occurred_at / 1000, 'unixepoch')`,
	encodeTime: func(t time.Time) any { return t.UTC().UnixMilli() },
}

// DialectFor maps a driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres.Driver, "postgres":
		return Postgres, nil
	case SQLite.Driver, "sqlite":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}

func (d Dialect) rebind(q string) string {
	return sqlx.Rebind(sqlx.BindType(d.Driver), q)
}

func (d Dialect) insertQuery() string {
	return d.rebind(`
		INSERT INTO attendance_records (id, device_id, device_name, occurred_at, battery, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
}

func (d Dialect) listQuery(f Filter) (string, []any) {
	query := `SELECT id, device_id, device_name, occurred_at, battery, created_at, updated_at FROM attendance_records`
	var (
		clauses []string
		args    []any
	)
	if f.DeviceID != "" {
		clauses = append(clauses, "device_id = ?")
		args = append(args, f.DeviceID)
	}
	if f.From != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, d.encodeTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "occurred_at <= ?")
		args = append(args, d.encodeTime(*f.To))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limit)
	return d.rebind(query), args
}

func (d Dialect) countByDayQuery() string {
	return d.rebind(`
		SELECT ` + d.dayExpr + ` AS day, COUNT(*) AS count
		FROM attendance_records
		WHERE occurred_at >= ?
		GROUP BY day
		ORDER BY day`)
}

// SQLRepository persists records in Postgres or SQLite.
type SQLRepository struct {
	db      *sqlx.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQLRepository creates a repo over an open connection.
func NewSQLRepository(db *sqlx.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect, now: time.Now}
}

// EnsureSchema creates the records table and its indexes when missing.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range r.dialect.schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Insert writes a new record.
func (r *SQLRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	rec = prepareInsert(rec, r.now())
	enc := r.dialect.encodeTime
	_, err := r.db.ExecContext(ctx, r.dialect.insertQuery(),
		rec.ID, rec.DeviceID, nullString(rec.DeviceName), enc(rec.Timestamp), rec.Battery,
		enc(rec.CreatedAt), enc(rec.UpdatedAt))
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Find returns records with basic filters.
func (r *SQLRepository) Find(ctx context.Context, f Filter) ([]Record, error) {
	query, args := r.dialect.listQuery(f)
	var rows []sqlRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// CountByDay groups by UTC calendar date in the database.
func (r *SQLRepository) CountByDay(ctx context.Context, since time.Time) ([]DayCount, error) {
	var out []DayCount
	err := r.db.SelectContext(ctx, &out, r.dialect.countByDayQuery(), r.dialect.encodeTime(since))
	return out, err
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type sqlRow struct {
	ID         string          `db:"id"`
	DeviceID   string          `db:"device_id"`
	DeviceName sql.NullString  `db:"device_name"`
	OccurredAt dbTime          `db:"occurred_at"`
	Battery    sql.NullFloat64 `db:"battery"`
	CreatedAt  dbTime          `db:"created_at"`
	UpdatedAt  dbTime          `db:"updated_at"`
}

func (row sqlRow) record() Record {
	rec := Record{
		ID:         row.ID,
		DeviceID:   row.DeviceID,
		DeviceName: row.DeviceName.String,
		Timestamp:  row.OccurredAt.Time,
		CreatedAt:  row.CreatedAt.Time,
		UpdatedAt:  row.UpdatedAt.Time,
	}
	if row.Battery.Valid {
		b := row.Battery.Float64
		rec.Battery = &b
	}
	return rec
}

// dbTime scans either a native timestamp or unix milliseconds.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case int64:
		t.Time = time.UnixMilli(v).UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	parsed, ok := ParseInstant(s)
	if !ok {
		return fmt.Errorf("unparseable time value %q", s)
	}
	t.Time = parsed
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
