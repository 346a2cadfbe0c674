package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// The schema is written once with placeholders for the few types that
// differ between MySQL and SQLite.  Calendar dates ("YYYY-MM-DD"), times of
// day ("HH:MM") and UTC timestamps ("YYYY-MM-DD HH:MM:SS") are stored as
// strings and parsed by the repositories.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS lookups (
		kind  VARCHAR(32)  NOT NULL,
		code  VARCHAR(64)  NOT NULL,
		label VARCHAR(128) NOT NULL,
		PRIMARY KEY (kind, code)
	)`,
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id                 {{pk}},
		kind               VARCHAR(16)  NOT NULL,
		code               VARCHAR(64)  NOT NULL UNIQUE,
		name               VARCHAR(255) NOT NULL,
		capacity           INT          NOT NULL DEFAULT 0,
		total_quantity     INT          NOT NULL DEFAULT 0,
		available_quantity INT          NOT NULL DEFAULT 0,
		unit               VARCHAR(64)  NOT NULL DEFAULT '',
		resource_type      VARCHAR(64)  NOT NULL DEFAULT '',
		status             VARCHAR(32)  NOT NULL,
		location           VARCHAR(255) NOT NULL DEFAULT '',
		version            BIGINT       NOT NULL DEFAULT 0,
		created_at         VARCHAR(32)  NOT NULL,
		updated_at         VARCHAR(32)  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id               {{pk}},
		requester_id     {{id}}       NOT NULL,
		item_id          {{id}}       NOT NULL,
		kind             VARCHAR(16)  NOT NULL,
		req_date         VARCHAR(10)  NOT NULL,
		return_date      VARCHAR(10)  NULL,
		quantity         INT          NOT NULL,
		justification    TEXT         NOT NULL,
		status           VARCHAR(32)  NOT NULL,
		rejection_reason TEXT         NULL,
		decided_by       {{id}}       NULL,
		decided_at       VARCHAR(32)  NULL,
		created_at       VARCHAR(32)  NOT NULL,
		updated_at       VARCHAR(32)  NOT NULL,
		FOREIGN KEY (item_id) REFERENCES catalog_items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS request_slots (
		request_id {{id}}     NOT NULL,
		start_time VARCHAR(8) NOT NULL,
		end_time   VARCHAR(8) NOT NULL,
		PRIMARY KEY (request_id, start_time),
		FOREIGN KEY (request_id) REFERENCES requests (id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS allocations (
		id              {{pk}},
		request_id      {{id}}      NOT NULL UNIQUE,
		item_id         {{id}}      NOT NULL,
		requester_id    {{id}}      NOT NULL,
		kind            VARCHAR(16) NOT NULL,
		start_date      VARCHAR(10) NOT NULL,
		expected_return VARCHAR(10) NULL,
		quantity        INT         NOT NULL,
		status          VARCHAR(16) NOT NULL,
		checked_in_at   VARCHAR(32) NULL,
		returned_at     VARCHAR(32) NULL,
		returned_by     {{id}}      NULL,
		reminder_sent   {{bool}}    NOT NULL DEFAULT 0,
		overdue_sent    {{bool}}    NOT NULL DEFAULT 0,
		created_at      VARCHAR(32) NOT NULL,
		FOREIGN KEY (request_id) REFERENCES requests (id),
		FOREIGN KEY (item_id) REFERENCES catalog_items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
		id         {{pk}},
		item_id    {{id}}      NOT NULL,
		start_date VARCHAR(10) NOT NULL,
		end_date   VARCHAR(10) NOT NULL,
		reason     TEXT        NOT NULL,
		active     {{bool}}    NOT NULL DEFAULT 1,
		created_by {{id}}      NOT NULL,
		created_at VARCHAR(32) NOT NULL,
		FOREIGN KEY (item_id) REFERENCES catalog_items (id)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id           VARCHAR(36)  NOT NULL PRIMARY KEY,
		recipient_id {{id}}       NOT NULL,
		kind         VARCHAR(64)  NOT NULL,
		title        VARCHAR(255) NOT NULL,
		body         TEXT         NOT NULL,
		metadata     TEXT         NOT NULL,
		read_at      VARCHAR(32)  NULL,
		created_at   VARCHAR(32)  NOT NULL
	)`,
}

var indexes = []string{
	`CREATE INDEX idx_requests_item_status ON requests (item_id, status)`,
	`CREATE INDEX idx_requests_requester ON requests (requester_id)`,
	`CREATE INDEX idx_allocations_item_status ON allocations (item_id, status)`,
	`CREATE INDEX idx_allocations_status_kind ON allocations (status, kind)`,
	`CREATE INDEX idx_blocks_item ON blocks (item_id, active)`,
	`CREATE INDEX idx_notifications_recipient ON notifications (recipient_id, created_at)`,
}

var dialects = map[string]*strings.Replacer{
	DriverMySQL: strings.NewReplacer(
		"{{pk}}", "BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY",
		"{{id}}", "BIGINT UNSIGNED",
		"{{bool}}", "TINYINT(1)",
	),
	DriverSQLite: strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{id}}", "INTEGER",
		"{{bool}}", "INTEGER",
	),
}

// mysqlDupKeyName is returned by MySQL when an index already exists.
const mysqlDupKeyName = 1061

// Migrate creates every table and index that does not exist yet.  It is
// safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	if driver == "" {
		driver = DriverMySQL
	}
	r, ok := dialects[driver]
	if !ok {
		return fmt.Errorf("unsupported driver %q", driver)
	}
	for _, ddl := range tables {
		if _, err := db.ExecContext(ctx, r.Replace(ddl)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	for _, ddl := range indexes {
		if driver == DriverSQLite {
			ddl = strings.Replace(ddl, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			var myErr *mysql.MySQLError
			if errors.As(err, &myErr) && myErr.Number == mysqlDupKeyName {
				continue
			}
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
