package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSQLTablePrefix = "snipstore"
	sqlOperationTimeout   = 5 * time.Second
	metaEventCounter      = "event_counter"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlDialect holds what differs between the SQL engines.
type sqlDialect struct {
	driver      string
	placeholder func(n int) string
	timestamp   string
	nowExpr     string
	// prepare runs on a freshly opened handle.
	prepare func(db *sql.DB) error
}

// SQLStateBackend keeps one row per record in <prefix>_records and the
// event counter in <prefix>_meta. Save replaces every record row in one
// transaction.
type SQLStateBackend struct {
	dsn         string
	dialect     sqlDialect
	tablePrefix string
	openDB      sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newSQLStateBackend(dsn string, dialect sqlDialect) (*SQLStateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStateBackend{
		dsn:         dsn,
		dialect:     dialect,
		tablePrefix: defaultSQLTablePrefix,
		openDB:      sql.Open,
	}, nil
}

func (b *SQLStateBackend) recordsTable() string {
	return sqlQuoteIdentifier(b.tablePrefix + "_records")
}

func (b *SQLStateBackend) metaTable() string {
	return sqlQuoteIdentifier(b.tablePrefix + "_meta")
}

func (b *SQLStateBackend) Load() (*persistedState, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	var rawCounter string
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT meta_value FROM %s WHERE meta_key = %s", b.metaTable(), b.dialect.placeholder(1)),
		metaEventCounter,
	).Scan(&rawCounter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	counter, err := strconv.ParseUint(rawCounter, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse stored event counter %q: %w", rawCounter, err)
	}

	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf("SELECT collection, data FROM %s ORDER BY collection, pos", b.recordsTable()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	state := &persistedState{EventCounter: counter, Collections: map[string][]Record{}}
	for rows.Next() {
		var collection, data string
		if err := rows.Scan(&collection, &data); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode stored %s record: %w", collection, err)
		}
		state.Collections[collection] = append(state.Collections[collection], rec)
	}
	return state, rows.Err()
}

func (b *SQLStateBackend) Save(state *persistedState) error {
	if state == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", b.recordsTable())); err != nil {
		return err
	}
	p := b.dialect.placeholder
	insert := fmt.Sprintf("INSERT INTO %s (collection, pos, id, data) VALUES (%s, %s, %s, %s)",
		b.recordsTable(), p(1), p(2), p(3), p(4))
	for collection, recs := range state.Collections {
		for pos, rec := range recs {
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insert, collection, pos, rec["id"], string(data)); err != nil {
				return fmt.Errorf("store %s/%s: %w", collection, rec["id"], err)
			}
		}
	}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (meta_key, meta_value, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (meta_key) DO UPDATE SET meta_value = excluded.meta_value, updated_at = %s`,
		b.metaTable(), p(1), p(2), b.dialect.nowExpr, b.dialect.nowExpr)
	if _, err := tx.ExecContext(ctx, upsert, metaEventCounter, strconv.FormatUint(state.EventCounter, 10)); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *SQLStateBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := b.openDB(b.dialect.driver, b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		if b.dialect.prepare != nil {
			if err := b.dialect.prepare(db); err != nil {
				_ = db.Close()
				b.initErr = err
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()
		ddl := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				collection TEXT NOT NULL,
				pos INTEGER NOT NULL,
				id TEXT NOT NULL,
				data TEXT NOT NULL,
				PRIMARY KEY (collection, id)
			)`, b.recordsTable()),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				meta_key TEXT PRIMARY KEY,
				meta_value TEXT NOT NULL,
				updated_at %s NOT NULL DEFAULT %s
			)`, b.metaTable(), b.dialect.timestamp, b.dialect.nowExpr),
		}
		for _, stmt := range ddl {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				b.initErr = err
				return
			}
		}
		b.db = db
	})
	return b.initErr
}

func sqlQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
