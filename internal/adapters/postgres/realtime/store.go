package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/changefeed"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying record_events ids.
const NotifyChannel = "realtime_changes"

var errEventsPruned = errors.New("missed events pruned while disconnected")

const (
	// writeLockKey serializes writers so record_events ids follow commit order.
	writeLockKey = 0x6b6b7265636f7264

	recentEvents   = 1024
	eventRetention = time.Hour

	// pruneSlack covers notifications still in flight when the listener died
	// and clock skew against the database.
	pruneSlack = 5 * time.Minute

	reconnectMinDelay = 100 * time.Millisecond
	reconnectMaxDelay = 5 * time.Second
)

// Store is a Postgres implementation of realtime.Store.
//
// Every write appends a row to record_events and NOTIFYs its id in the same
// transaction. A dedicated listener connection loads each notified event and
// fans it out to local subscribers, so writes from other relay processes are
// observed too. When the listener connection drops, the store reconnects,
// re-LISTENs and catches up from record_events.
type Store struct {
	pool   *pgxpool.Pool
	hub    *changefeed.Hub
	logger *slog.Logger

	newKey func() domain.RecordKey

	pubMu   sync.Mutex
	lastSeq int64
	recent  []realtime.Event
	// recent holds every published event with Seq > bufferFloor.
	bufferFloor int64

	listening atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore starts listening on NotifyChannel before returning, so no write
// made after NewStore returns is missed. Call Close to stop the listener.
func NewStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("nil postgres pool")
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w", err)
	}

	var lastSeq int64
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM record_events`).Scan(&lastSeq); err != nil {
		conn.Release()
		return nil, fmt.Errorf("read event sequence: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		hub:         changefeed.NewHub(),
		logger:      logger,
		newKey:      domain.NewRecordKey,
		lastSeq:     lastSeq,
		bufferFloor: lastSeq,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.listening.Store(true)
	go s.run(listenCtx, conn)
	return s, nil
}

// Check reports realtime.ErrFeedUnavailable while the listener is
// reconnecting.
func (s *Store) Check(context.Context) error {
	if !s.listening.Load() {
		return realtime.ErrFeedUnavailable
	}
	return nil
}

// Close stops the listener and waits for it to exit. Open subscriptions stay
// open until their contexts end but receive no further events.
func (s *Store) Close() {
	s.cancel()
	<-s.done
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

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockWrites(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO records (collection, key, body)
			VALUES ($1, $2, $3::jsonb)
		`, string(coll), string(key), string(body)); err != nil {
			return err
		}
		return appendEvent(ctx, tx, coll, realtime.ChildAdded, key, body)
	})
	if err != nil {
		return "", err
	}
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

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockWrites(ctx, tx); err != nil {
			return err
		}
		var inserted bool
		if err := tx.QueryRow(ctx, `
			INSERT INTO records (collection, key, body)
			VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (collection, key)
			DO UPDATE SET body = EXCLUDED.body, updated_at = now()
			RETURNING (xmax = 0)
		`, string(coll), string(key), string(body)).Scan(&inserted); err != nil {
			return err
		}
		kind := realtime.ChildChanged
		if inserted {
			kind = realtime.ChildAdded
		}
		return appendEvent(ctx, tx, coll, kind, key, body)
	})
}

func (s *Store) Remove(ctx context.Context, coll domain.Collection, key domain.RecordKey) error {
	if !coll.Valid() {
		return realtime.ErrUnknownCollection
	}
	if key == "" {
		return realtime.ErrInvalidKey
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockWrites(ctx, tx); err != nil {
			return err
		}
		var last []byte
		err := tx.QueryRow(ctx, `
			DELETE FROM records
			WHERE collection = $1 AND key = $2
			RETURNING body
		`, string(coll), string(key)).Scan(&last)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		return appendEvent(ctx, tx, coll, realtime.ChildRemoved, key, last)
	})
}

func (s *Store) Once(ctx context.Context, coll domain.Collection) (map[domain.RecordKey]domain.Record, error) {
	if !coll.Valid() {
		return nil, realtime.ErrUnknownCollection
	}
	return readCollection(ctx, s.pool, coll)
}

// Subscribe reads a consistent snapshot together with the event sequence it
// reflects, then registers with the hub so that events at or below that
// sequence are not delivered twice.
func (s *Store) Subscribe(ctx context.Context, coll domain.Collection) (<-chan realtime.Event, error) {
	if !coll.Valid() {
		return nil, realtime.ErrUnknownCollection
	}

	var (
		children    map[domain.RecordKey]domain.Record
		snapshotSeq int64
	)
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		if children, err = readCollection(ctx, tx, coll); err != nil {
			return err
		}
		return tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM record_events`).Scan(&snapshotSeq)
	})
	if err != nil {
		return nil, err
	}

	replay := changefeed.Replay(coll, children)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	// The listener may already be past the snapshot; hand over what it published since.
	after := snapshotSeq
	if s.lastSeq > snapshotSeq {
		backlog, complete := s.recentSince(coll, snapshotSeq)
		if !complete {
			s.logger.Warn("realtime subscribe: change backlog truncated", "collection", coll, "snapshot_seq", snapshotSeq, "last_seq", s.lastSeq)
		}
		replay = append(replay, backlog...)
		after = s.lastSeq
	}
	return s.hub.SubscribeAfter(ctx, coll, replay, after), nil
}

func (s *Store) run(ctx context.Context, conn *pgxpool.Conn) {
	defer close(s.done)
	defer s.listening.Store(false)

	for {
		err := s.listen(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		s.listening.Store(false)
		s.logger.Error("realtime listener lost connection", "err", err)

		if conn = s.resume(ctx, time.Now()); conn == nil {
			return
		}
		s.listening.Store(true)
		s.logger.Info("realtime listener reconnected")
	}
}

// resume reconnects and catches up, retrying until both succeed or ctx ends.
// Subscribers are cut off when missed events can no longer be replayed.
func (s *Store) resume(ctx context.Context, lostAt time.Time) *pgxpool.Conn {
	for {
		conn := s.reconnect(ctx)
		if conn == nil {
			return nil
		}
		err := s.catchUp(ctx, lostAt)
		if err == nil {
			return conn
		}
		if errors.Is(err, errEventsPruned) {
			s.logger.Error("realtime listener: ending subscriptions", "err", err)
			s.hub.CloseAll()
			return conn
		}
		conn.Release()
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("realtime listener: catch up failed", "err", err)
	}
}

// listen forwards notifications until ctx ends or the connection fails. The
// connection is always given back: closed ones are dropped by the pool.
func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn) error {
	defer func() {
		if ctx.Err() != nil && !conn.Conn().IsClosed() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = conn.Exec(cleanupCtx, "UNLISTEN *")
		}
		conn.Release()
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				_ = conn.Conn().Close(closeCtx)
				cancel()
			}
			return err
		}
		seq, err := strconv.ParseInt(n.Payload, 10, 64)
		if err != nil {
			s.logger.Warn("realtime listener: bad notification payload", "payload", n.Payload)
			continue
		}
		evt, err := loadEvent(ctx, s.pool, seq)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				s.logger.Warn("realtime listener: event pruned before delivery", "seq", seq)
				continue
			}
			if ctx.Err() == nil {
				s.logger.Error("realtime listener: load event", "seq", seq, "err", err)
			}
			continue
		}
		s.publish(evt)
	}
}

// reconnect acquires a fresh connection and LISTENs on it, backing off between
// attempts. It returns nil once ctx is done.
func (s *Store) reconnect(ctx context.Context) *pgxpool.Conn {
	delay := reconnectMinDelay
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := s.pool.Acquire(ctx)
		if err == nil {
			if _, err = conn.Exec(ctx, "LISTEN "+NotifyChannel); err == nil {
				return conn
			}
			conn.Release()
		}
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("realtime listener: reconnect failed", "err", err, "retry_in", delay)
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// catchUp publishes every event recorded after the last one seen. Once the
// outage that began at lostAt approaches eventRetention, missed events may
// have been pruned: it publishes what is left and reports the loss.
func (s *Store) catchUp(ctx context.Context, lostAt time.Time) error {
	s.pubMu.Lock()
	after := s.lastSeq
	s.pubMu.Unlock()

	pruned := time.Since(lostAt) > eventRetention-pruneSlack

	events, err := loadEventsAfter(ctx, s.pool, after)
	if err != nil {
		return err
	}
	if pruned {
		s.pubMu.Lock()
		s.recent = nil
		s.bufferFloor = s.lastSeq
		if len(events) > 0 {
			s.bufferFloor = max(s.bufferFloor, events[0].Seq-1)
		}
		s.pubMu.Unlock()
	}
	for _, evt := range events {
		s.publish(evt)
	}
	if pruned {
		return fmt.Errorf("%w: after %d", errEventsPruned, after)
	}
	return nil
}

func (s *Store) publish(evt realtime.Event) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if evt.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = evt.Seq
	s.recent = append(s.recent, evt)
	if drop := len(s.recent) - recentEvents; drop > 0 {
		s.bufferFloor = s.recent[drop-1].Seq
		s.recent = append([]realtime.Event(nil), s.recent[drop:]...)
	}
	s.hub.Publish(evt)
}

// recentSince returns buffered events for coll with Seq > after. complete is
// false when events after after were evicted from the buffer. Sequence gaps
// left by rolled-back writes do not count as missing.
func (s *Store) recentSince(coll domain.Collection, after int64) ([]realtime.Event, bool) {
	complete := s.bufferFloor <= after
	var out []realtime.Event
	for _, evt := range s.recent {
		if evt.Seq > after && evt.Collection == coll {
			out = append(out, evt)
		}
	}
	return out, complete
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func readCollection(ctx context.Context, q querier, coll domain.Collection) (map[domain.RecordKey]domain.Record, error) {
	rows, err := q.Query(ctx, `
		SELECT key, body
		FROM records
		WHERE collection = $1
	`, string(coll))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.RecordKey]domain.Record)
	for rows.Next() {
		var (
			key  string
			body []byte
		)
		if err := rows.Scan(&key, &body); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", coll, key, err)
		}
		out[domain.RecordKey(key)] = rec
	}
	return out, rows.Err()
}

func loadEvent(ctx context.Context, pool *pgxpool.Pool, seq int64) (realtime.Event, error) {
	var (
		coll, kind, key string
		body            []byte
	)
	if err := pool.QueryRow(ctx, `
		SELECT collection, kind, key, body
		FROM record_events
		WHERE id = $1
	`, seq).Scan(&coll, &kind, &key, &body); err != nil {
		return realtime.Event{}, err
	}
	return toEvent(seq, coll, kind, key, body)
}

func loadEventsAfter(ctx context.Context, pool *pgxpool.Pool, after int64) ([]realtime.Event, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, collection, kind, key, body
		FROM record_events
		WHERE id > $1
		ORDER BY id
	`, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []realtime.Event
	for rows.Next() {
		var (
			seq             int64
			coll, kind, key string
			body            []byte
		)
		if err := rows.Scan(&seq, &coll, &kind, &key, &body); err != nil {
			return nil, err
		}
		evt, err := toEvent(seq, coll, kind, key, body)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func toEvent(seq int64, coll, kind, key string, body []byte) (realtime.Event, error) {
	rec, err := decodeRecord(body)
	if err != nil {
		return realtime.Event{}, fmt.Errorf("decode event %d: %w", seq, err)
	}
	return realtime.Event{
		Collection: domain.Collection(coll),
		Kind:       realtime.EventKind(kind),
		Key:        domain.RecordKey(key),
		Value:      rec,
		Seq:        seq,
	}, nil
}

func lockWrites(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(writeLockKey))
	return err
}

func appendEvent(ctx context.Context, tx pgx.Tx, coll domain.Collection, kind realtime.EventKind, key domain.RecordKey, body []byte) error {
	var seq int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO record_events (collection, kind, key, body)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id
	`, string(coll), string(kind), string(key), string(body)).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, strconv.FormatInt(seq, 10)); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		DELETE FROM record_events
		WHERE created_at < now() - make_interval(secs => $1)
	`, eventRetention.Seconds())
	return err
}

func decodeRecord(body []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
