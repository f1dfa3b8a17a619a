// Package postgres reads change records from the kv_deltas table written by
// the postgres store.
//
// Sequence ids are allocated before commit, so they are not a safe cursor on
// their own. Rows are read in (txid, id) order and only once their writing
// transaction is older than every transaction still running, which makes
// the cursor monotonic.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/rpccache/cdc"
)

const defaultInterval = 20 * time.Millisecond

const (
	tailSQL = `SELECT txid::text, id FROM kv_deltas
		WHERE txid < pg_snapshot_xmin(pg_current_snapshot())
		ORDER BY txid DESC, id DESC LIMIT 1`
	pollSQL = `SELECT txid::text, id, record FROM kv_deltas
		WHERE (txid, id) > ($1::text::xid8, $2)
		  AND txid < pg_snapshot_xmin(pg_current_snapshot())
		ORDER BY txid, id LIMIT $3`
)

type Log struct {
	pool     *pgxpool.Pool
	interval time.Duration
}

var _ cdc.Log = (*Log)(nil)

// New polls pool every interval while waiting for rows; 0 => 20ms.
func New(pool *pgxpool.Pool, interval time.Duration) *Log {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Log{pool: pool, interval: interval}
}

func (l *Log) Tail(ctx context.Context) (string, error) {
	var (
		txid string
		id   int64
	)
	err := l.pool.QueryRow(ctx, tailSQL).Scan(&txid, &id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "0:0", nil
	}
	if err != nil {
		return "", err
	}
	return cursor(txid, id), nil
}

func (l *Log) Poll(ctx context.Context, after string, timeout time.Duration, max int) ([]cdc.Entry, error) {
	txid, id, err := parseCursor(after)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for {
		out, err := l.fetch(ctx, txid, id, max)
		if err != nil || len(out) > 0 {
			return out, err
		}
		wait := min(l.interval, time.Until(deadline))
		if wait <= 0 {
			return nil, nil
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

func (l *Log) fetch(ctx context.Context, txid string, id int64, max int) ([]cdc.Entry, error) {
	rows, err := l.pool.Query(ctx, pollSQL, txid, id, max)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cdc.Entry, error) {
		var (
			tx  string
			rid int64
			rec string
		)
		if err := row.Scan(&tx, &rid, &rec); err != nil {
			return cdc.Entry{}, err
		}
		return cdc.Entry{ID: cursor(tx, rid), Payload: []byte(rec)}, nil
	})
}

func cursor(txid string, id int64) string { return txid + ":" + strconv.FormatInt(id, 10) }

func parseCursor(s string) (string, int64, error) {
	tx, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, fmt.Errorf("cdc postgres: invalid cursor %q", s)
	}
	if _, err := strconv.ParseUint(tx, 10, 64); err != nil {
		return "", 0, fmt.Errorf("cdc postgres: invalid cursor %q", s)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("cdc postgres: invalid cursor %q", s)
	}
	return tx, id, nil
}
