// Package queue reads and administers the job-queue runtime's own keys: the
// queue registry, pending job lists, worker registrations and global counters.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nadmax/resqview/internal/store"
)

var ErrWorkerNotFound = errors.New("worker not found")

// Info is a point-in-time snapshot of the runtime's counters.
type Info struct {
	Pending   int64  `json:"pending"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
	Queues    int64  `json:"queues"`
	Workers   int64  `json:"workers"`
	Working   int64  `json:"working"`
	Server    string `json:"server"`
}

type QueueSize struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type Runtime struct {
	store  *store.Store
	client redis.Cmdable
}

func NewRuntime(s *store.Store) *Runtime {
	return &Runtime{store: s, client: s.Client()}
}

func (r *Runtime) queueKey(name string) string { return r.store.Key("queue:" + name) }

// Queues lists registered queue names in SMEMBERS order.
func (r *Runtime) Queues(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.store.Key("queues")).Result()
	if err != nil {
		return nil, r.store.Wrap("list queues", err)
	}
	return names, nil
}

func (r *Runtime) Size(ctx context.Context, name string) (int64, error) {
	n, err := r.client.LLen(ctx, r.queueKey(name)).Result()
	if err != nil {
		return 0, r.store.Wrap("queue size", err)
	}
	return n, nil
}

// Sizes pairs every queue with its current length, keeping listing order.
func (r *Runtime) Sizes(ctx context.Context) ([]QueueSize, error) {
	names, err := r.Queues(ctx)
	if err != nil {
		return nil, err
	}

	cmds, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, name := range names {
			p.LLen(ctx, r.queueKey(name))
		}
		return nil
	})
	if err != nil {
		return nil, r.store.Wrap("queue sizes", err)
	}

	sizes := make([]QueueSize, 0, len(names))
	for i, name := range names {
		sizes = append(sizes, QueueSize{Name: name, Size: cmds[i].(*redis.IntCmd).Val()})
	}
	return sizes, nil
}

// Peek returns up to count jobs starting at start. Entries that are not valid
// job JSON are shown with the raw text as their class.
func (r *Runtime) Peek(ctx context.Context, name string, start, count int64) ([]Job, error) {
	if count <= 0 {
		return []Job{}, nil
	}

	raw, err := r.client.LRange(ctx, r.queueKey(name), start, start+count-1).Result()
	if err != nil {
		return nil, r.store.Wrap("peek queue", err)
	}

	jobs := make([]Job, 0, len(raw))
	for _, entry := range raw {
		j, err := JobFromJSON(entry)
		if err != nil {
			j = Job{Class: entry}
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// RemoveQueue unregisters the queue and drops its pending jobs.
func (r *Runtime) RemoveQueue(ctx context.Context, name string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, r.store.Key("queues"), name)
		p.Del(ctx, r.queueKey(name))
		return nil
	})
	return r.store.Wrap("remove queue", err)
}

// Push registers the queue and appends the job, the same way the runtime's
// own enqueue does.
func (r *Runtime) Push(ctx context.Context, name string, job Job) error {
	payload, err := job.ToJSON()
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return r.PushRaw(ctx, name, payload)
}

// PushRaw is Push for a payload that is already encoded. The bytes are
// enqueued as given.
func (r *Runtime) PushRaw(ctx context.Context, name, payload string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, r.store.Key("queues"), name)
		p.RPush(ctx, r.queueKey(name), payload)
		return nil
	})
	return r.store.Wrap("push job", err)
}

func (r *Runtime) workerIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.store.Key("workers")).Result()
	if err != nil {
		return nil, r.store.Wrap("list workers", err)
	}
	return ids, nil
}

// Workers loads every registered worker with its current job and counters.
func (r *Runtime) Workers(ctx context.Context) ([]Worker, error) {
	ids, err := r.workerIDs(ctx)
	if err != nil {
		return nil, err
	}
	return r.loadWorkers(ctx, ids)
}

// Working returns only the workers currently processing a job.
func (r *Runtime) Working(ctx context.Context) ([]Worker, error) {
	workers, err := r.Workers(ctx)
	if err != nil {
		return nil, err
	}

	busy := []Worker{}
	for _, w := range workers {
		if w.Working() {
			busy = append(busy, w)
		}
	}
	return busy, nil
}

func (r *Runtime) Worker(ctx context.Context, id string) (*Worker, error) {
	registered, err := r.client.SIsMember(ctx, r.store.Key("workers"), id).Result()
	if err != nil {
		return nil, r.store.Wrap("find worker", err)
	}
	if !registered {
		return nil, ErrWorkerNotFound
	}

	workers, err := r.loadWorkers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	return &workers[0], nil
}

func (r *Runtime) loadWorkers(ctx context.Context, ids []string) ([]Worker, error) {
	if len(ids) == 0 {
		return []Worker{}, nil
	}

	const perWorker = 4
	cmds, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.Get(ctx, r.store.Key("worker:"+id))
			p.Get(ctx, r.store.Key("worker:"+id+":started"))
			p.Get(ctx, r.store.Key("stat:processed:"+id))
			p.Get(ctx, r.store.Key("stat:failed:"+id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, r.store.Wrap("load workers", err)
	}

	workers := make([]Worker, 0, len(ids))
	for i, id := range ids {
		host, pid, queues := ParseWorkerID(id)
		w := Worker{ID: id, Host: host, PID: pid, Queues: queues}

		base := i * perWorker
		if payload := cmds[base].(*redis.StringCmd).Val(); payload != "" {
			if job, err := decodeWorkingJob(payload); err == nil {
				w.Job = job
			}
		}
		w.Started = cmds[base+1].(*redis.StringCmd).Val()
		w.Processed, _ = cmds[base+2].(*redis.StringCmd).Int64()
		w.Failed, _ = cmds[base+3].(*redis.StringCmd).Int64()

		workers = append(workers, w)
	}
	return workers, nil
}

// Info gathers the counters shown on the overview and exported as stats.
// Pending is the sum of all queue lengths.
func (r *Runtime) Info(ctx context.Context) (Info, error) {
	info, _, err := r.Snapshot(ctx)
	return info, err
}

// Snapshot is Info together with the queue sizes it summed, read once so
// Pending always equals the total of the returned sizes.
func (r *Runtime) Snapshot(ctx context.Context) (Info, []QueueSize, error) {
	sizes, err := r.Sizes(ctx)
	if err != nil {
		return Info{}, nil, err
	}

	info := Info{Queues: int64(len(sizes)), Server: "redis://" + r.store.Addr()}
	for _, q := range sizes {
		info.Pending += q.Size
	}

	if info.Processed, err = r.store.Counter(ctx, "stat:processed"); err != nil {
		return Info{}, nil, err
	}
	if info.Failed, err = r.store.Counter(ctx, "stat:failed"); err != nil {
		return Info{}, nil, err
	}

	ids, err := r.workerIDs(ctx)
	if err != nil {
		return Info{}, nil, err
	}
	info.Workers = int64(len(ids))

	if len(ids) > 0 {
		cmds, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, id := range ids {
				p.Exists(ctx, r.store.Key("worker:"+id))
			}
			return nil
		})
		if err != nil {
			return Info{}, nil, r.store.Wrap("count working", err)
		}
		for _, cmd := range cmds {
			info.Working += cmd.(*redis.IntCmd).Val()
		}
	}

	return info, sizes, nil
}
