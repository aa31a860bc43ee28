package driver

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// sqlitePragmas is applied to every SQLite connection:
//   - WAL mode for concurrent readers from other processes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Open connects to a backend by database/sql driver name and verifies the
// connection. Supported names are sqlite3, pgx and mysql.
func Open(driverName, dsn string, logger *slog.Logger) (*SQL, error) {
	switch driverName {
	case "sqlite3", "sqlite":
		return OpenSQLite(dsn, logger)
	case "pgx", "postgres", "postgresql":
		if _, err := pgx.ParseConfig(dsn); err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
		return openAndPing("pgx", dsn, PostgresDialect{}, logger)
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		// Date columns must come back as time.Time, not []byte.
		cfg.ParseTime = true
		return openAndPing("mysql", cfg.FormatDSN(), MySQLDialect{}, logger)
	}
	return nil, fmt.Errorf("unsupported driver %q", driverName)
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// applies the standard pragmas.
func OpenSQLite(path string, logger *slog.Logger) (*SQL, error) {
	s, err := openAndPing("sqlite3", path, SQLiteDialect{}, logger)
	if err != nil {
		return nil, err
	}
	for _, pragma := range sqlitePragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			s.db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return s, nil
}

func openAndPing(name, dsn string, dialect Dialect, logger *slog.Logger) (*SQL, error) {
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := NewSQL(db, dialect, logger)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", dialect.ClassifyError(err))
	}
	return s, nil
}
