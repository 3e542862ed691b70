package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/changefeed"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// Store is a SQLite implementation of realtime.Store for single-process deployments.
//
// Writes are serialized by mu and published to the hub after commit while mu
// is still held, so Subscribe (which takes mu) sees a gap-free stream.
type Store struct {
	db  *sql.DB
	hub *changefeed.Hub
	mu  sync.Mutex

	newKey func() domain.RecordKey
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		hub:    changefeed.NewHub(),
		newKey: domain.NewRecordKey,
	}
}

func (s *Store) Push(ctx context.Context, coll domain.Collection, rec domain.Record) (domain.RecordKey, error) {
	if !coll.Valid() {
		return "", realtime.ErrUnknownCollection
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	key := s.newKey()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO records (collection, key, body) VALUES (?, ?, ?)
	`, string(coll), string(key), string(body)); err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	s.hub.Publish(realtime.Event{Collection: coll, Kind: realtime.ChildAdded, Key: key, Value: rec.Clone()})
	return key, nil
}

func (s *Store) Set(ctx context.Context, coll domain.Collection, key domain.RecordKey, rec domain.Record) error {
	if !coll.Valid() {
		return realtime.ErrUnknownCollection
	}
	if key == "" {
		return realtime.ErrInvalidKey
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM records WHERE collection = ? AND key = ?
	`, string(coll), string(key)).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup record: %w", err)
	}
	kind := realtime.ChildAdded
	if err == nil {
		kind = realtime.ChildChanged
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO records (collection, key, body) VALUES (?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET body = excluded.body
	`, string(coll), string(key), string(body)); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.hub.Publish(realtime.Event{Collection: coll, Kind: kind, Key: key, Value: rec.Clone()})
	return nil
}

func (s *Store) Remove(ctx context.Context, coll domain.Collection, key domain.RecordKey) error {
	if !coll.Valid() {
		return realtime.ErrUnknownCollection
	}
	if key == "" {
		return realtime.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var body string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM records WHERE collection = ? AND key = ?
		RETURNING body
	`, string(coll), string(key)).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("delete record: %w", err)
	}
	last, err := decodeRecord(body)
	if err != nil {
		return fmt.Errorf("decode %s/%s: %w", coll, key, err)
	}
	s.hub.Publish(realtime.Event{Collection: coll, Kind: realtime.ChildRemoved, Key: key, Value: last})
	return nil
}

func (s *Store) Once(ctx context.Context, coll domain.Collection) (map[domain.RecordKey]domain.Record, error) {
	if !coll.Valid() {
		return nil, realtime.ErrUnknownCollection
	}
	return s.readCollection(ctx, coll)
}

func (s *Store) Subscribe(ctx context.Context, coll domain.Collection) (<-chan realtime.Event, error) {
	if !coll.Valid() {
		return nil, realtime.ErrUnknownCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	children, err := s.readCollection(ctx, coll)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(ctx, coll, changefeed.Replay(coll, children)), nil
}

func (s *Store) readCollection(ctx context.Context, coll domain.Collection) (map[domain.RecordKey]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, body FROM records WHERE collection = ?
	`, string(coll))
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[domain.RecordKey]domain.Record)
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", coll, key, err)
		}
		out[domain.RecordKey(key)] = rec
	}
	return out, rows.Err()
}

func decodeRecord(body string) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
