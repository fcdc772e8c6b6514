package failure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/store"
)

var ErrIndexOutOfRange = errors.New("failure index out of range")

// Index addresses failure records by their ordinal position in the log.
//
// Positions are not stable identifiers: a failure appended by a worker, or a
// removal issued by another request, between reading a page and acting on an
// index makes Requeue and Remove hit a different record. Callers must treat
// an index as valid only for the snapshot it was read from.
type Index struct {
	store   *store.Store
	client  redis.Cmdable
	runtime *queue.Runtime
	now     func() time.Time
}

func NewIndex(s *store.Store, runtime *queue.Runtime) *Index {
	return &Index{
		store:   s,
		client:  s.Client(),
		runtime: runtime,
		now:     time.Now,
	}
}

func (x *Index) key() string { return x.store.Key("failed") }

func (x *Index) Count(ctx context.Context) (int64, error) {
	n, err := x.client.LLen(ctx, x.key()).Result()
	if err != nil {
		return 0, x.store.Wrap("count failures", err)
	}
	return n, nil
}

// All returns up to limit records starting at start, oldest first. Entries
// that cannot be decoded are returned Malformed, so the page always holds one
// record per log entry.
func (x *Index) All(ctx context.Context, start, limit int64) ([]*Record, error) {
	if limit <= 0 {
		return []*Record{}, nil
	}
	if start < 0 {
		start = 0
	}

	raw, err := x.client.LRange(ctx, x.key(), start, start+limit-1).Result()
	if err != nil {
		return nil, x.store.Wrap("list failures", err)
	}

	records := make([]*Record, 0, len(raw))
	for i, entry := range raw {
		records = append(records, decodeEntry(entry, start+int64(i)))
	}
	return records, nil
}

// Get reads the record at position i.
func (x *Index) Get(ctx context.Context, i int64) (*Record, error) {
	if i < 0 {
		return nil, ErrIndexOutOfRange
	}

	raw, err := x.client.LIndex(ctx, x.key(), i).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIndexOutOfRange
	}
	if err != nil {
		return nil, x.store.Wrap("get failure", err)
	}

	rec, err := RecordFromJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode failure %d: %w: %w", i, ErrMalformedRecord, err)
	}
	rec.Index = i
	return rec, nil
}

// Requeue pushes the job of record i back onto its queue and stamps
// retried_at. The record stays in the log with every other field untouched,
// and the payload is enqueued byte for byte.
func (x *Index) Requeue(ctx context.Context, i int64) (*Record, error) {
	rec, err := x.Get(ctx, i)
	if err != nil {
		return nil, err
	}

	rec.RetriedAt = &Timestamp{Time: x.now()}
	data, err := rec.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("encode failure %d: %w", i, err)
	}

	if err := x.client.LSet(ctx, x.key(), i, data).Err(); err != nil {
		return nil, x.setErr("requeue failure", err)
	}

	payload, err := rec.PayloadJSON()
	if err != nil {
		return nil, fmt.Errorf("encode payload %d: %w", i, err)
	}
	if err := x.runtime.PushRaw(ctx, rec.Queue, payload); err != nil {
		return nil, err
	}
	return rec, nil
}

// Remove deletes record i by overwriting it with a unique sentinel and then
// removing that sentinel.
func (x *Index) Remove(ctx context.Context, i int64) error {
	if i < 0 {
		return ErrIndexOutOfRange
	}

	sentinel := "__resqview_removed__" + uuid.NewString()
	if err := x.client.LSet(ctx, x.key(), i, sentinel).Err(); err != nil {
		return x.setErr("remove failure", err)
	}
	if err := x.client.LRem(ctx, x.key(), 1, sentinel).Err(); err != nil {
		return x.store.Wrap("remove failure", err)
	}
	return nil
}

// setErr maps the LSET reply for a missing list or a bad position onto
// ErrIndexOutOfRange.
func (x *Index) setErr(op string, err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return fmt.Errorf("%s: %w", op, ErrIndexOutOfRange)
	}
	return x.store.Wrap(op, err)
}

// RemoveQueue deletes every record that failed on the named queue.
func (x *Index) RemoveQueue(ctx context.Context, queueName string) (int64, error) {
	return x.removeWhere(ctx, func(r *Record) bool { return r.Queue == queueName })
}

// RemoveMatching deletes every record with the given queue and exception.
func (x *Index) RemoveMatching(ctx context.Context, queueName, exception string) (int64, error) {
	return x.removeWhere(ctx, func(r *Record) bool {
		return r.Queue == queueName && r.Exception == exception
	})
}

func (x *Index) removeWhere(ctx context.Context, match func(*Record) bool) (int64, error) {
	raw, err := x.client.LRange(ctx, x.key(), 0, -1).Result()
	if err != nil {
		return 0, x.store.Wrap("scan failures", err)
	}

	var doomed []string
	for i, entry := range raw {
		if match(decodeEntry(entry, int64(i))) {
			doomed = append(doomed, entry)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	cmds, err := x.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, entry := range doomed {
			p.LRem(ctx, x.key(), 1, entry)
		}
		return nil
	})
	if err != nil {
		return 0, x.store.Wrap("remove failures", err)
	}

	var removed int64
	for _, cmd := range cmds {
		removed += cmd.(*redis.IntCmd).Val()
	}
	return removed, nil
}

// Clear deletes the whole log and reports how many records it held.
func (x *Index) Clear(ctx context.Context) (int64, error) {
	var count *redis.IntCmd
	_, err := x.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		count = p.LLen(ctx, x.key())
		p.Del(ctx, x.key())
		return nil
	})
	if err != nil {
		return 0, x.store.Wrap("clear failures", err)
	}
	return count.Val(), nil
}

// RequeueAll requeues positions 0 through Count()-1, with the count read
// once up front. It is not atomic: failures appended meanwhile are not
// requeued, and a concurrent removal shifts positions so some records are
// requeued twice and others skipped, or the tail runs out of range. Malformed
// entries are skipped, as there is no job to push. Any other error stops it,
// and it reports how many records it requeued; nothing already requeued is
// rolled back.
func (x *Index) RequeueAll(ctx context.Context) (int64, error) {
	n, err := x.Count(ctx)
	if err != nil {
		return 0, err
	}

	var done int64
	for i := int64(0); i < n; i++ {
		_, err := x.Requeue(ctx, i)
		if errors.Is(err, ErrMalformedRecord) {
			continue
		}
		if err != nil {
			return done, fmt.Errorf("requeue %d of %d: %w", i, n, err)
		}
		done++
	}
	return done, nil
}
