package repository

import (
	"fmt"

	"gorm.io/gorm"
)

// dialect holds the SQL that differs between SQLite and Postgres.
type dialect struct {
	name   string
	schema []string
	// dayExpr renders a scores timestamp column as a YYYY-MM-DD UTC date string.
	dayExpr string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER NOT NULL,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_telegram_id ON users (telegram_id)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users (id),
			points INTEGER NOT NULL DEFAULT 1,
			"timestamp" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_user_id ON scores (user_id)`,
	},
	dayExpr: `strftime('%Y-%m-%d', s."timestamp")`,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			telegram_id BIGINT NOT NULL,
			username TEXT,
			first_name TEXT,
			last_name TEXT,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_telegram_id ON users (telegram_id)`,
		`CREATE TABLE IF NOT EXISTS scores (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users (id),
			points INTEGER NOT NULL DEFAULT 1,
			"timestamp" TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_user_id ON scores (user_id)`,
	},
	dayExpr: `to_char(s."timestamp" AT TIME ZONE 'UTC', 'YYYY-MM-DD')`,
}

func (d dialect) timeSeriesQuery() string {
	return fmt.Sprintf(timeSeriesSQL, d.dayExpr)
}

func dialectFor(db *gorm.DB) dialect {
	if db.Dialector.Name() == postgresDialect.name {
		return postgresDialect
	}
	return sqliteDialect
}

// migrate creates missing tables and indexes. It never drops or alters anything.
func migrate(db *gorm.DB) error {
	d := dialectFor(db)
	return db.Transaction(func(tx *gorm.DB) error {
		for _, stmt := range d.schema {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("%s schema: %w", d.name, err)
			}
		}
		return nil
	})
}
