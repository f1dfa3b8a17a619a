// Package redis reads change records from a Redis stream written by the
// redis store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/rpccache/cdc"
	"github.com/unkn0wn-root/rpccache/internal/util"
)

const field = "record"

// Log follows one stream with XREAD BLOCK.
type Log struct {
	rdb    goredis.UniversalClient
	stream string
}

var _ cdc.Log = (*Log)(nil)

// New follows the stream of namespace ns under prefix ("" => "rpccache"),
// matching the keys the redis store writes.
func New(client goredis.UniversalClient, prefix, ns string) *Log {
	return NewStream(client, util.RedisKey(util.Coalesce(prefix, util.DefaultPrefix), ns, "deltas"))
}

func NewStream(client goredis.UniversalClient, stream string) *Log {
	return &Log{rdb: client, stream: stream}
}

func (l *Log) Tail(ctx context.Context) (string, error) {
	msgs, err := l.rdb.XRevRangeN(ctx, l.stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (l *Log) Poll(ctx context.Context, after string, timeout time.Duration, max int) ([]cdc.Entry, error) {
	block := timeout
	switch {
	case block <= 0:
		block = -1 // do not block
	case block < time.Millisecond:
		block = time.Millisecond // BLOCK 0 would wait forever
	}
	res, err := l.rdb.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{l.stream, after},
		Count:   int64(max),
		Block:   block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entries(res), nil
}

// entries flattens an XREAD reply. A message without a usable record field
// keeps its ID with a nil payload, so the consumer reports it as
// undecodable and moves past it.
func entries(res []goredis.XStream) []cdc.Entry {
	var out []cdc.Entry
	for _, st := range res {
		for _, m := range st.Messages {
			p, _ := payload(m.Values[field])
			out = append(out, cdc.Entry{ID: m.ID, Payload: p})
		}
	}
	return out
}

func payload(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case nil:
		return nil, errors.New("missing record field")
	default:
		return nil, fmt.Errorf("unexpected record type %T", v)
	}
}
