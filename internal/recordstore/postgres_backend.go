package recordstore

import (
	"strconv"

	_ "github.com/lib/pq"
)

var postgresDialect = sqlDialect{
	driver:      "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	timestamp:   "TIMESTAMPTZ",
	nowExpr:     "NOW()",
}

func NewPostgresStateBackend(dsn string) (StateBackend, error) {
	b, err := newSQLStateBackend(dsn, postgresDialect)
	if err != nil {
		return nil, err
	}
	return b, nil
}
