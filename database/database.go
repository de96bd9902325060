package database

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/camden-git/faceidbackend/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Question placeholders are understood by both sqlite and mysql.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func configureSQLite(db *sql.DB) {
	// enable write-ahead Logging for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logger.Warnf("database: failed to set WAL mode: %v", err)
	}
}
