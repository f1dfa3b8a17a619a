// Package postgres is a Store on PostgreSQL via pgx. Units run in
// SERIALIZABLE transactions holding a per-namespace advisory lock; change
// records go to kv_deltas in the same transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/store"
)

// Schema creates the tables used by Store and cdc/postgres.Log.
// kv_deltas.txid orders visibility for readers; see cdc/postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
	c text  NOT NULL,
	k text  NOT NULL,
	v bytea NOT NULL,
	PRIMARY KEY (c, k)
);
CREATE TABLE IF NOT EXISTS kv_parameters (
	c           text   NOT NULL,
	param_name  text   NOT NULL,
	param_value bigint NOT NULL,
	PRIMARY KEY (c, param_name)
);
CREATE TABLE IF NOT EXISTS kv_deltas (
	id     bigserial PRIMARY KEY,
	txid   xid8      NOT NULL DEFAULT pg_current_xact_id(),
	record text      NOT NULL
);`

const (
	defaultMaxRetries = 8

	// serialization_failure, deadlock_detected
	codeSerialization = "40001"
	codeDeadlock      = "40P01"
)

var (
	ErrNilPool  = errors.New("postgres store: nil pool")
	ErrConflict = errors.New("postgres store: too many serialization failures")
)

type Config struct {
	Pool       *pgxpool.Pool
	MaxRetries int  // 0 => 8
	ClosePool  bool // set true only if this store exclusively owns the pool
}

type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
	closePool  bool
}

var _ store.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, ErrNilPool
	}
	return &Store{
		pool:       cfg.Pool,
		maxRetries: util.Coalesce(cfg.MaxRetries, defaultMaxRetries),
		closePool:  cfg.ClosePool,
	}, nil
}

// Open connects to dsn, applies Schema and returns a Store owning the pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: schema: %w", err)
	}
	return New(Config{Pool: pool, ClosePool: true})
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Update(ctx context.Context, ns string, fn func(store.Tx) error) error {
	if ns == "" {
		return store.ErrNamespace
	}
	for i := 0; i < s.maxRetries; i++ {
		err := s.attempt(ctx, ns, fn)
		if retryable(err) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: namespace %q", ErrConflict, ns)
}

func (s *Store) attempt(ctx context.Context, ns string, fn func(store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ns); err != nil {
		return err
	}
	ov := store.NewOverlay(ns, reader{tx: tx, ns: ns})
	if err := fn(ov); err != nil {
		return err
	}
	b := ov.Batch()
	if b.Empty() {
		return tx.Commit(ctx)
	}
	payloads, err := b.EncodeEvents()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for k, v := range b.Puts {
		batch.Queue(`INSERT INTO kv (c, k, v) VALUES ($1, $2, $3)
			ON CONFLICT (c, k) DO UPDATE SET v = EXCLUDED.v`, ns, k, v)
	}
	if len(b.Deletes) > 0 {
		batch.Queue(`DELETE FROM kv WHERE c = $1 AND k = ANY($2)`, ns, b.Deletes)
	}
	for n, v := range b.Params {
		batch.Queue(`INSERT INTO kv_parameters (c, param_name, param_value) VALUES ($1, $2, $3)
			ON CONFLICT (c, param_name) DO UPDATE SET param_value = EXCLUDED.param_value`, ns, n, v)
	}
	for _, p := range payloads {
		batch.Queue(`INSERT INTO kv_deltas (record) VALUES ($1)`, string(p))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerialization || pgErr.Code == codeDeadlock
	}
	return false
}

func (s *Store) Close(context.Context) error {
	if s.closePool {
		s.pool.Close()
	}
	return nil
}

type reader struct {
	tx pgx.Tx
	ns string
}

func (r reader) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := r.tx.QueryRow(ctx, `SELECT v FROM kv WHERE c = $1 AND k = $2`, r.ns, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r reader) Scan(ctx context.Context) ([]store.KV, error) {
	rows, err := r.tx.Query(ctx, `SELECT k, v FROM kv WHERE c = $1 ORDER BY k COLLATE "C"`, r.ns)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.KV, error) {
		var kv store.KV
		err := row.Scan(&kv.Key, &kv.Value)
		return kv, err
	})
}

func (r reader) Param(ctx context.Context, name string) (int64, bool, error) {
	var v int64
	err := r.tx.QueryRow(ctx, `SELECT param_value FROM kv_parameters WHERE c = $1 AND param_name = $2`, r.ns, name).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
