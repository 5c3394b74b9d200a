// Package database implements the room store on PostgreSQL. Each room is one
// JSONB document; sub-path writes are read-modify-write under a row lock and
// every commit is announced with pg_notify so subscribers re-read the room.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"go.uber.org/zap"
)

const (
	notifyChannel    = "room_changes"
	reconnectDelay   = time.Second
	insufficientPriv = "42501"
)

var ErrUnexpectedDatabase = errors.New("unexpected database error")

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresStore struct {
	pool *pgxpool.Pool
	hub  *store.Hub

	// pubMu orders snapshot reads with their delivery so a subscriber never
	// receives an older document after a newer one.
	pubMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

var _ store.RoomStore = (*PostgresStore)(nil)

// New connects, creates the schema and starts the change listener.
func New(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", classify(err))
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	p := &PostgresStore{
		pool:   pool,
		hub:    store.NewHub(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.listen(listenCtx)

	logger.Info("[database] Connected to PostgreSQL room store")
	return p, nil
}

// Close stops the listener, fails open subscriptions and closes the pool.
func (p *PostgresStore) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		<-p.done
		p.hub.Fail(store.ErrClosed)
		p.pool.Close()
		logger.Info("[database] Disconnected from PostgreSQL room store")
	})
}

func (p *PostgresStore) Subscribe(ctx context.Context, roomID string) (*store.Subscription, error) {
	if _, _, err := store.ParsePath(store.RoomPath(roomID)); err != nil {
		return nil, err
	}

	sub := p.hub.Add(roomID)

	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	data, err := p.Get(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		sub.Close()
		return nil, err
	}
	p.hub.Deliver(sub, store.Event{RoomID: roomID, Data: data})
	return sub, nil
}

func (p *PostgresStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1`, roomID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return raw, nil
}

func (p *PostgresStore) Set(ctx context.Context, path string, value any) error {
	roomID, keys, err := store.ParsePath(path)
	if err != nil {
		return err
	}
	normalized, err := store.Normalize(value)
	if err != nil {
		return err
	}
	if normalized == nil {
		return p.Remove(ctx, path)
	}

	if len(keys) == 0 {
		doc, err := store.AsDocument(normalized)
		if err != nil {
			return err
		}
		return p.update(ctx, roomID, true, func(current store.Document) bool {
			clear(current)
			for k, v := range doc {
				current[k] = v
			}
			return true
		})
	}

	return p.update(ctx, roomID, true, func(doc store.Document) bool {
		store.SetPath(doc, keys, normalized)
		return true
	})
}

func (p *PostgresStore) Remove(ctx context.Context, path string) error {
	roomID, keys, err := store.ParsePath(path)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return p.deleteRoom(ctx, roomID)
	}
	return p.update(ctx, roomID, false, func(doc store.Document) bool {
		return store.RemovePath(doc, keys)
	})
}

// update applies fn to the room document inside a transaction. When create
// is false a missing room is left alone. fn reports whether it changed doc.
func (p *PostgresStore) update(ctx context.Context, roomID string, create bool, fn func(store.Document) bool) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if create {
		if _, err := tx.Exec(ctx, `INSERT INTO rooms (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, roomID); err != nil {
			return classify(err)
		}
	}

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1 FOR UPDATE`, roomID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return classify(err)
	}

	doc, err := store.DecodeDocument(raw)
	if err != nil {
		return err
	}
	if !fn(doc) {
		return nil
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE rooms SET doc = $2::jsonb, updated_at = now() WHERE id = $1`, roomID, string(out)); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, roomID); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func (p *PostgresStore) deleteRoom(ctx context.Context, roomID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, roomID); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// =============================================================================
// CHANGE LISTENER
// =============================================================================

func (p *PostgresStore) listen(ctx context.Context) {
	defer close(p.done)
	for {
		err := p.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("[database] Change listener stopped, reconnecting", zap.Error(err))
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (p *PostgresStore) listenOnce(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, _ = conn.Exec(unlistenCtx, "UNLISTEN *")
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}

	// Changes made while the listener was down were never announced.
	for _, roomID := range p.hub.Rooms() {
		p.publish(ctx, roomID)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if p.hub.HasSubscribers(n.Payload) {
			p.publish(ctx, n.Payload)
		}
	}
}

func (p *PostgresStore) publish(ctx context.Context, roomID string) {
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	data, err := p.Get(ctx, roomID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("[database] Failed to read room for notification",
			zap.String("room", roomID), zap.Error(err))
		return
	}
	p.hub.Publish(roomID, data)
}

// =============================================================================
// HEALTH & ERRORS
// =============================================================================

// Health reports connectivity and pool statistics.
func (p *PostgresStore) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)
	if err := p.pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	s := p.pool.Stat()
	stats["status"] = "up"
	stats["message"] = "It's healthy"
	stats["total_connections"] = strconv.Itoa(int(s.TotalConns()))
	stats["acquired_connections"] = strconv.Itoa(int(s.AcquiredConns()))
	stats["idle_connections"] = strconv.Itoa(int(s.IdleConns()))
	stats["max_connections"] = strconv.Itoa(int(s.MaxConns()))
	stats["subscribed_rooms"] = strconv.Itoa(len(p.hub.Rooms()))

	if s.AcquiredConns() == s.MaxConns() {
		stats["message"] = "The database pool is exhausted."
	}
	return stats
}

// classify maps driver errors onto the store's error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == insufficientPriv {
			return fmt.Errorf("%w: %s", store.ErrPermissionDenied, pgErr.Message)
		}
		return fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", store.ErrNetwork, err)
	}
	return fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
}
