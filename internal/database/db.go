package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pending actions are few and long-lived; a small pool is plenty.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// schema creates the tables this service owns.  The unique key on
// pending_actions enforces one outstanding action per catalogue version.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalogues (
		id                   BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		code                 VARCHAR(64)  NOT NULL,
		version_major        INT UNSIGNED NOT NULL,
		version_minor        INT UNSIGNED NOT NULL,
		version_internal     INT UNSIGNED NOT NULL,
		busy                 TINYINT(1)   NOT NULL DEFAULT 0,
		needs_reconciliation TINYINT(1)   NOT NULL DEFAULT 0,
		reserved_level       VARCHAR(16)  NULL,
		reserved_by          VARCHAR(128) NULL,
		reserve_note         TEXT         NULL,
		published            TINYINT(1)   NOT NULL DEFAULT 0,
		payload              LONGBLOB     NULL,
		created_at           DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at           DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_catalogue_version (code, version_major, version_minor, version_internal)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS pending_actions (
		id                       BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		kind                     VARCHAR(32)  NOT NULL,
		remote_log_id            VARCHAR(128) NULL,
		level                    VARCHAR(16)  NOT NULL,
		catalogue_code           VARCHAR(64)  NOT NULL,
		catalogue_major          INT UNSIGNED NOT NULL,
		catalogue_minor          INT UNSIGNED NOT NULL,
		catalogue_internal       INT UNSIGNED NOT NULL,
		requester                VARCHAR(128) NOT NULL,
		priority                 VARCHAR(8)   NOT NULL,
		note                     TEXT         NOT NULL,
		status                   VARCHAR(32)  NOT NULL,
		created_at               DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at               DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_pending_catalogue (catalogue_code, catalogue_major, catalogue_minor, catalogue_internal)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables.  It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
