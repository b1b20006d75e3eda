// Package api provides NovusDB's embedding surface: open a database
// directory, start transactions, and get/put/delete byte-string keys.
package api

import (
	"fmt"

	"github.com/nodb-engine/nodb/config"
	"github.com/nodb-engine/nodb/txn"
)

// DB represents an open NovusDB instance.
type DB struct {
	eng *txn.Engine
}

// Open opens or creates a NovusDB instance rooted at dir, applying opts
// on top of the default configuration.
func Open(dir string, opts ...config.Option) (*DB, error) {
	cfg := config.New(append([]config.Option{config.WithDir(dir)}, opts...)...)
	eng, err := txn.Bootstrap(cfg)
	if err != nil {
		return nil, fmt.Errorf("NovusDB: %w", err)
	}
	return &DB{eng: eng}, nil
}

// Close shuts the database down cleanly: final checkpoint, buffer pool
// and WAL close, file lock release.
func (db *DB) Close() error {
	if err := db.eng.Close(); err != nil {
		return fmt.Errorf("NovusDB: close: %w", err)
	}
	return nil
}

// Stats reports a point-in-time snapshot of engine state, useful for
// diagnostics and the CLI's stats command.
func (db *DB) Stats() txn.Stats { return db.eng.Stats() }

// Tx represents an explicit transaction. Writes are atomic: Commit makes
// them durable and visible to future transactions, Rollback discards them.
type Tx struct {
	inner *txn.Tx
}

// Begin starts a new transaction.
func (db *DB) Begin() (*Tx, error) {
	t, err := db.eng.NewTransaction()
	if err != nil {
		return nil, fmt.Errorf("NovusDB: begin: %w", err)
	}
	return &Tx{inner: t}, nil
}

// Get returns the version of key visible to this transaction's snapshot.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	v, err := tx.inner.Get(key)
	if err != nil {
		return nil, fmt.Errorf("NovusDB: get: %w", err)
	}
	return v, nil
}

// Put writes a new version of key, visible from this point in the
// transaction onward.
func (tx *Tx) Put(key, value []byte) error {
	if err := tx.inner.Insert(key, value); err != nil {
		return fmt.Errorf("NovusDB: put: %w", err)
	}
	return nil
}

// Delete writes a tombstone version of key.
func (tx *Tx) Delete(key []byte) error {
	if err := tx.inner.Delete(key); err != nil {
		return fmt.Errorf("NovusDB: delete: %w", err)
	}
	return nil
}

// Commit makes every write in the transaction durable and permanent.
func (tx *Tx) Commit() error {
	if err := tx.inner.Commit(); err != nil {
		return fmt.Errorf("NovusDB: commit: %w", err)
	}
	return nil
}

// Rollback discards every write made in the transaction.
func (tx *Tx) Rollback() error {
	if err := tx.inner.Abort(); err != nil {
		return fmt.Errorf("NovusDB: rollback: %w", err)
	}
	return nil
}

// Get runs a single-transaction read: begin, Get, commit.
func (db *DB) Get(key []byte) ([]byte, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	v, err := tx.Get(key)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return v, nil
}

// Put runs a single-transaction write: begin, Put, commit.
func (db *DB) Put(key, value []byte) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := tx.Put(key, value); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Delete runs a single-transaction delete: begin, Delete, commit.
func (db *DB) Delete(key []byte) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := tx.Delete(key); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
