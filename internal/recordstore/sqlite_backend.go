package recordstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func sqliteDialect(path string) sqlDialect {
	return sqlDialect{
		driver:      "sqlite",
		placeholder: func(int) string { return "?" },
		timestamp:   "TIMESTAMP",
		nowExpr:     "CURRENT_TIMESTAMP",
		prepare: func(db *sql.DB) error {
			// One connection serializes writers on the file.
			db.SetMaxOpenConns(1)
			if dir := filepath.Dir(path); dir != "." {
				return os.MkdirAll(dir, 0o755)
			}
			return nil
		},
	}
}

// NewSQLiteStateBackend stores records in a local SQLite file, creating
// its directory on first use.
func NewSQLiteStateBackend(path string) (StateBackend, error) {
	path = strings.TrimSpace(path)
	b, err := newSQLStateBackend(path, sqliteDialect(path))
	if err != nil {
		return nil, err
	}
	return b, nil
}
