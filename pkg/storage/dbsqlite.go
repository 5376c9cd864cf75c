package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// DBSQLite implements the DB interface using SQLite.
// The pool is pinned to a single connection, so a transaction holds the only
// connection for its whole read-check-write sequence and writers serialize.
type DBSQLite struct {
	db *sql.DB
}

func NewDBSQLite(filename string) (*DBSQLite, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("new sqlitedb: %w", err)
	}

	// modernc sqlite does not support concurrent writers on one connection.
	db.SetMaxOpenConns(1)

	if err := createTables(context.Background(), db); err != nil {
		return nil, fmt.Errorf("unable to create table: %w", err)
	}
	return &DBSQLite{db: db}, nil
}

// createTables creates the tables required for storing the documents.
func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `create table if not exists document (key text primary key, value blob)`)
	if err != nil {
		return err
	}
	return nil
}

func (db *DBSQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.db.QueryRowContext(ctx, `select value from document where key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (db *DBSQLite) Scan(ctx context.Context, start string) ([]Entry, error) {
	rows, err := db.db.QueryContext(ctx, `select key, value from document where key >= ? order by key asc`, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DBSQLite) Insert(ctx context.Context, key string, value []byte) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, `select count(*) from document where key = ?`, key).Scan(&existing)
	if err != nil {
		return err
	}
	if existing > 0 {
		return ErrKeyExists
	}
	if _, err := tx.ExecContext(ctx, `insert into document (key, value) values (?, ?)`, key, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DBSQLite) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current []byte
	exists := true
	err = tx.QueryRowContext(ctx, `select value from document where key = ?`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		current = nil
	} else if err != nil {
		return err
	}

	replacement, err := fn(current, exists)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `insert into document (key, value) values (?, ?) on conflict(key) do update set value = excluded.value`, key, replacement); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete key from store. No-op if key is absent.
func (db *DBSQLite) Delete(ctx context.Context, key string) error {
	_, err := db.db.ExecContext(ctx, `delete from document where key = ?`, key)
	return err
}

func (db *DBSQLite) Close() error {
	return db.db.Close()
}
