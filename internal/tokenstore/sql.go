package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "github.com/microsoft/go-mssqldb" // Registers the "sqlserver" driver.
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// singletonID is the fixed primary key of the only row in the cache table.
const singletonID = 1

// DefaultTable is the cache table name used when none is configured.
const DefaultTable = "aem_token_cache"

// identifierPattern restricts table names to plain SQL identifiers. The name is
// interpolated into statements, so anything else is rejected up front.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// Dialect identifies the SQL backend behind a SQLStore.
type Dialect string

const (
	DialectSQLite    Dialect = "sqlite"
	DialectSQLServer Dialect = "sqlserver"
)

// dialectSpec holds the driver name and statements of one backend.
// Statements take the table name as their only format argument.
type dialectSpec struct {
	driverName  string
	goose       goose.Dialect
	createTable string
	selectRow   string
	upsertRow   string
	bindTime    func(time.Time) any
}

var dialects = map[Dialect]dialectSpec{
	DialectSQLite: {
		driverName: "sqlite",
		goose:      goose.DialectSQLite3,
		// Timestamps are TEXT so the driver hands back the exact RFC 3339 string we wrote.
		createTable: `CREATE TABLE IF NOT EXISTS %[1]s (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			access_token TEXT NOT NULL,
			expires_at   TEXT NOT NULL,
			created_at   TEXT NOT NULL
		)`,
		selectRow: `SELECT access_token, expires_at, created_at FROM %[1]s WHERE id = 1`,
		upsertRow: `INSERT INTO %[1]s (id, access_token, expires_at, created_at)
			VALUES (1, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				access_token = excluded.access_token,
				expires_at   = excluded.expires_at,
				created_at   = excluded.created_at`,
		bindTime: func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
	},
	DialectSQLServer: {
		driverName: "sqlserver",
		goose:      goose.DialectMSSQL,
		createTable: `IF OBJECT_ID(N'%[1]s', N'U') IS NULL
			CREATE TABLE %[1]s (
				id           INT           PRIMARY KEY DEFAULT 1,
				access_token NVARCHAR(MAX) NOT NULL,
				expires_at   DATETIME2     NOT NULL,
				created_at   DATETIME2     NOT NULL DEFAULT SYSUTCDATETIME()
			)`,
		selectRow: `SELECT access_token, expires_at, created_at FROM %[1]s WHERE id = 1`,
		upsertRow: `MERGE %[1]s AS target
			USING (SELECT 1 AS id) AS src ON target.id = src.id
			WHEN MATCHED THEN
				UPDATE SET access_token = @p1, expires_at = @p2, created_at = @p3
			WHEN NOT MATCHED THEN
				INSERT (id, access_token, expires_at, created_at) VALUES (1, @p1, @p2, @p3);`,
		bindTime: func(t time.Time) any { return t.UTC() },
	},
}

// SQLServerConfig holds the connection parameters for a SQL Server cache.
type SQLServerConfig struct {
	Server   string
	Database string
	User     string
	Password string
}

// DSN renders the parameters as a go-mssqldb connection URL.
func (c SQLServerConfig) DSN() string {
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Server,
		RawQuery: url.Values{"database": []string{c.Database}}.Encode(),
	}
	return u.String()
}

// SQLStore keeps the token record in a single-row SQL table.
//
// Every operation opens its own connection and closes it before returning;
// no handle outlives a call. Concurrent processes writing the same table are
// not coordinated: the last writer wins.
type SQLStore struct {
	spec    dialectSpec
	dialect Dialect
	dsn     string
	table   string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Compile-time check to ensure SQLStore implements TokenStore
var _ TokenStore = (*SQLStore)(nil)

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithLogger sets the logger used for schema and write diagnostics.
func WithLogger(logger *slog.Logger) SQLOption {
	return func(s *SQLStore) {
		s.logger = logger
	}
}

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) {
		s.nowFunc = now
	}
}

// NewSQLiteStore creates a SQLStore backed by the SQLite database at dbPath,
// creating parent directories with 0700 permissions if they don't exist.
func NewSQLiteStore(dbPath, table string, opts ...SQLOption) (*SQLStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, err
	}

	// DSN pragmas apply to every connection the driver opens.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)

	return NewSQLStore(DialectSQLite, dsn, table, opts...)
}

// NewSQLServerStore creates a SQLStore backed by a SQL Server database.
func NewSQLServerStore(cfg SQLServerConfig, table string, opts ...SQLOption) (*SQLStore, error) {
	if cfg.Server == "" || cfg.Database == "" {
		return nil, fmt.Errorf("server and database cannot be empty")
	}

	return NewSQLStore(DialectSQLServer, cfg.DSN(), table, opts...)
}

// NewSQLStore creates a SQLStore for an arbitrary DSN of the given dialect.
// No connection is made until the first operation.
func NewSQLStore(dialect Dialect, dsn, table string, opts ...SQLOption) (*SQLStore, error) {
	spec, ok := dialects[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}
	if dsn == "" {
		return nil, fmt.Errorf("dsn cannot be empty")
	}
	if table == "" {
		table = DefaultTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	s := &SQLStore{
		spec:    spec,
		dialect: dialect,
		dsn:     dsn,
		table:   table,
		logger:  slog.Default(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// EnsureSchema creates the cache table if it does not exist yet.
//
// The statement runs as a goose Go migration with versioning disabled: it is
// applied on every call and relies on its own existence check, so no version
// table is left behind next to the cache.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	return s.withDB(ctx, "ensuring schema", func(db *sql.DB) error {
		createTable := fmt.Sprintf(s.spec.createTable, s.table)
		migration := goose.NewGoMigration(1, &goose.GoFunc{
			RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, createTable)
				return err
			},
		}, nil)

		provider, err := goose.NewProvider(s.spec.goose, db, nil,
			goose.WithGoMigrations(migration),
			goose.WithDisableVersioning(true),
		)
		if err != nil {
			return fmt.Errorf("creating migration provider: %w", err)
		}

		results, err := provider.Up(ctx)
		if err != nil {
			return err
		}

		for _, r := range results {
			s.logger.DebugContext(ctx, "token cache schema ensured",
				slog.String("table", s.table),
				slog.Int64("duration_ms", r.Duration.Milliseconds()),
			)
		}
		return nil
	})
}

// Load returns the singleton row, or nil when the table is empty.
func (s *SQLStore) Load(ctx context.Context) (*Record, error) {
	var rec *Record

	err := s.withDB(ctx, "loading token", func(db *sql.DB) error {
		var (
			token              string
			expiresAt, created any
		)
		row := db.QueryRowContext(ctx, fmt.Sprintf(s.spec.selectRow, s.table))
		if err := row.Scan(&token, &expiresAt, &created); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}

		exp, err := parseTime(expiresAt)
		if err != nil {
			return fmt.Errorf("expires_at: %w", err)
		}
		crt, err := parseTime(created)
		if err != nil {
			return fmt.Errorf("created_at: %w", err)
		}

		rec = &Record{AccessToken: token, ExpiresAt: exp, CreatedAt: crt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Save upserts the singleton row with a fresh CreatedAt.
func (s *SQLStore) Save(ctx context.Context, accessToken string, expiresAt time.Time) error {
	return s.withDB(ctx, "saving token", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf(s.spec.upsertRow, s.table),
			accessToken,
			s.spec.bindTime(expiresAt),
			s.spec.bindTime(s.nowFunc()),
		)
		return err
	})
}

// withDB opens a dedicated connection for one operation and closes it afterwards.
func (s *SQLStore) withDB(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	db, err := sql.Open(s.spec.driverName, s.dsn)
	if err != nil {
		return storageError("opening "+string(s.dialect)+" database", err)
	}
	defer func() { _ = db.Close() }()

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return storageError("connecting to "+string(s.dialect)+" database", err)
	}

	if err := fn(db); err != nil {
		return storageError(op, err)
	}

	return nil
}

// parseTime normalizes a scanned timestamp column to UTC.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
