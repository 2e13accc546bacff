package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open and Migrate.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open(DriverMySQL, dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a single-connection SQLite database at path.  It is
// used for local runs and by the tests.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
		},
	}.Encode()
	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS pmprorate_downgrades (
	id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
	user_id BIGINT UNSIGNED NOT NULL,
	original_level_id BIGINT UNSIGNED NOT NULL,
	new_level_id BIGINT UNSIGNED NOT NULL,
	downgrade_order_id BIGINT UNSIGNED NOT NULL,
	status VARCHAR(32) NOT NULL DEFAULT 'pending',
	PRIMARY KEY (id),
	UNIQUE KEY downgrade_order_id (downgrade_order_id),
	KEY user_id (user_id),
	KEY status (status)
)`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pmprorate_downgrades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	original_level_id INTEGER NOT NULL,
	new_level_id INTEGER NOT NULL,
	downgrade_order_id INTEGER NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_downgrades_user_id ON pmprorate_downgrades(user_id);
CREATE INDEX IF NOT EXISTS idx_downgrades_status ON pmprorate_downgrades(status);`

// Migrate creates the downgrade table for the given driver if it does
// not exist yet.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	var schema string
	switch driver {
	case DriverMySQL:
		schema = mysqlSchema
	case DriverSQLite:
		schema = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s schema: %w", driver, err)
	}
	return nil
}
