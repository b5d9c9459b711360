package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateLink    = errors.New("link already belongs to another listing")
	ErrStoreUnavailable = errors.New("store unavailable")
)

const (
	sqlitePragmas    = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	sqliteDriverName = "sqlite3_bytovka"
)

var registerSQLite sync.Once

// registerSQLiteDriver registers a sqlite3 driver whose lower() folds
// Unicode. The built-in one only folds ASCII, so "Říčany" would never match
// a lowercased filter.
func registerSQLiteDriver() {
	registerSQLite.Do(func() {
		sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("lower", unicodeLower, true)
			},
		})
	})
}

func unicodeLower(v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		return strings.ToLower(s)
	case []byte:
		return strings.ToLower(string(s))
	default:
		return v
	}
}

// Database is the listing store, the address cache and the district catalog
type Database struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time

	// Options for snapshot reads spanning several statements
	readTx *sql.TxOptions
}

// NewDatabase opens the store for the given driver ("sqlite" or "postgres")
func NewDatabase(driver, dsn string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	var dialector gorm.Dialector
	var readTx *sql.TxOptions
	switch driver {
	case "sqlite":
		path := strings.SplitN(dsn, "?", 2)[0]
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqlitePragmas
		}
		registerSQLiteDriver()
		dialector = sqlite.New(sqlite.Config{DriverName: sqliteDriverName, DSN: dsn})
	case "postgres":
		dialector = postgres.Open(dsn)
		readTx = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; one connection serializes every
		// statement instead of surfacing SQLITE_BUSY to callers.
		sqlDB.SetMaxOpenConns(1)
	}

	return &Database{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		readTx: readTx,
	}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) GetDB() *gorm.DB {
	return d.db
}

// SetClock replaces the time source used for created_at, updated_at and last_ping
func (d *Database) SetClock(now func() time.Time) {
	d.now = func() time.Time { return now().UTC() }
}

// Now returns the store's current time
func (d *Database) Now() time.Time {
	return d.now()
}

// Ping checks that the store answers
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return wrapErr("ping", err)
	}
	return wrapErr("ping", sqlDB.PingContext(ctx))
}

// wrapErr maps driver errors onto the package's error taxonomy
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
