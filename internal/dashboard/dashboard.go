// Package dashboard assembles the data behind each monitoring page. Every
// accessor is a fresh read of Redis; nothing is kept between calls.
package dashboard

import (
	"context"
	"slices"
	"time"

	"github.com/nadmax/resqview/internal/failure"
	"github.com/nadmax/resqview/internal/queue"
	"github.com/nadmax/resqview/internal/stats"
	"github.com/nadmax/resqview/internal/store"
	"github.com/nadmax/resqview/internal/summary"
)

type Dashboard struct {
	store    *store.Store
	runtime  *queue.Runtime
	failures *failure.Index
	summary  *summary.Aggregator
	exporter *stats.Exporter
	pageSize int64
}

func NewDashboard(s *store.Store, runtime *queue.Runtime, failures *failure.Index, exporter *stats.Exporter, pageSize int) *Dashboard {
	if pageSize <= 0 {
		pageSize = store.DefaultPageSize
	}
	return &Dashboard{
		store:    s,
		runtime:  runtime,
		failures: failures,
		summary:  summary.NewAggregator(failures),
		exporter: exporter,
		pageSize: int64(pageSize),
	}
}

func (d *Dashboard) PageSize() int64 { return d.pageSize }

type Overview struct {
	Queues      []queue.QueueSize `json:"queues"`
	FailedCount int64             `json:"failed_count"`
	Working     []queue.Worker    `json:"working"`
	Info        queue.Info        `json:"info"`
	LastUpdated time.Time         `json:"last_updated"`
}

type QueuesView struct {
	Queues      []queue.QueueSize `json:"queues"`
	FailedCount int64             `json:"failed_count"`
}

type QueueView struct {
	Name  string      `json:"name"`
	Jobs  []queue.Job `json:"jobs"`
	Pager Pager       `json:"pager"`
}

type WorkersView struct {
	Workers []queue.Worker    `json:"workers"`
	Hosts   []queue.HostGroup `json:"hosts"`
}

type WorkingView struct {
	Working []queue.Worker `json:"working"`
	Total   int64          `json:"total"`
}

type GroupCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type FailedView struct {
	Records []*failure.Record `json:"records"`
	Queues  []GroupCount      `json:"queues"`
	Pager   Pager             `json:"pager"`
}

type FailDetailView struct {
	Queue      string            `json:"queue"`
	Exception  string            `json:"exception,omitempty"`
	Records    []*failure.Record `json:"records"`
	Exceptions []GroupCount      `json:"exceptions"`
	Pager      Pager             `json:"pager"`
}

type KeyInfo struct {
	Name string        `json:"name"`
	Type store.KeyType `json:"type"`
	Size int64         `json:"size"`
}

type KeysView struct {
	Keys []KeyInfo `json:"keys"`
}

type KeyView struct {
	KeyInfo
	Items []string `json:"items"`
	Pager Pager    `json:"pager"`
}

type InfoField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type RedisInfoView struct {
	Fields []InfoField `json:"fields"`
}

func counts(s *summary.Summary) []GroupCount {
	out := make([]GroupCount, 0, len(s.Groups))
	for _, g := range s.Groups {
		out = append(out, GroupCount{Key: g.Key, Count: g.Count})
	}
	return out
}

func (d *Dashboard) Overview(ctx context.Context) (*Overview, error) {
	info, sizes, err := d.runtime.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := d.failures.Count(ctx)
	if err != nil {
		return nil, err
	}
	working, err := d.runtime.Working(ctx)
	if err != nil {
		return nil, err
	}

	return &Overview{
		Queues:      sizes,
		FailedCount: failed,
		Working:     working,
		Info:        info,
		LastUpdated: time.Now(),
	}, nil
}

func (d *Dashboard) Queues(ctx context.Context) (*QueuesView, error) {
	sizes, err := d.runtime.Sizes(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := d.failures.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &QueuesView{Queues: sizes, FailedCount: failed}, nil
}

func (d *Dashboard) Queue(ctx context.Context, name string, start int64) (*QueueView, error) {
	size, err := d.runtime.Size(ctx, name)
	if err != nil {
		return nil, err
	}
	jobs, err := d.runtime.Peek(ctx, name, start, d.pageSize)
	if err != nil {
		return nil, err
	}
	return &QueueView{
		Name:  name,
		Jobs:  jobs,
		Pager: NewPager(start, d.pageSize, size, int64(len(jobs))),
	}, nil
}

func (d *Dashboard) Workers(ctx context.Context) (*WorkersView, error) {
	workers, err := d.runtime.Workers(ctx)
	if err != nil {
		return nil, err
	}
	return &WorkersView{Workers: workers, Hosts: queue.GroupByHost(workers)}, nil
}

func (d *Dashboard) Worker(ctx context.Context, id string) (*queue.Worker, error) {
	return d.runtime.Worker(ctx, id)
}

func (d *Dashboard) Working(ctx context.Context) (*WorkingView, error) {
	workers, err := d.runtime.Workers(ctx)
	if err != nil {
		return nil, err
	}

	view := &WorkingView{Working: []queue.Worker{}, Total: int64(len(workers))}
	for _, w := range workers {
		if w.Working() {
			view.Working = append(view.Working, w)
		}
	}
	return view, nil
}

func (d *Dashboard) Failed(ctx context.Context, start int64) (*FailedView, error) {
	total, err := d.failures.Count(ctx)
	if err != nil {
		return nil, err
	}
	records, err := d.failures.All(ctx, start, d.pageSize)
	if err != nil {
		return nil, err
	}
	byQueue, err := d.summary.ByQueue(ctx)
	if err != nil {
		return nil, err
	}

	return &FailedView{
		Records: records,
		Queues:  counts(byQueue),
		Pager:   NewPager(start, d.pageSize, total, int64(len(records))),
	}, nil
}

// FailedByQueue pages through one queue's failures, grouped by exception.
func (d *Dashboard) FailedByQueue(ctx context.Context, queueName string, start int64) (*FailDetailView, error) {
	byException, err := d.summary.ByException(ctx, queueName)
	if err != nil {
		return nil, err
	}

	records := summary.Page(byException.Records(), int(start), int(d.pageSize))
	return &FailDetailView{
		Queue:      queueName,
		Records:    records,
		Exceptions: counts(byException),
		Pager:      NewPager(start, d.pageSize, int64(byException.Total()), int64(len(records))),
	}, nil
}

// FailedByException narrows FailedByQueue to one exception kind. An unknown
// kind yields an empty page.
func (d *Dashboard) FailedByException(ctx context.Context, queueName, exception string, start int64) (*FailDetailView, error) {
	byException, err := d.summary.ByException(ctx, queueName)
	if err != nil {
		return nil, err
	}

	group := byException.Group(exception)
	records := summary.Page(group.Records, int(start), int(d.pageSize))
	return &FailDetailView{
		Queue:      queueName,
		Exception:  exception,
		Records:    records,
		Exceptions: counts(byException),
		Pager:      NewPager(start, d.pageSize, int64(group.Count), int64(len(records))),
	}, nil
}

func (d *Dashboard) Keys(ctx context.Context) (*KeysView, error) {
	names, err := d.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]KeyInfo, 0, len(names))
	for _, name := range names {
		info, err := d.keyInfo(ctx, name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, info)
	}
	return &KeysView{Keys: keys}, nil
}

func (d *Dashboard) keyInfo(ctx context.Context, name string) (KeyInfo, error) {
	t, err := d.store.Type(ctx, name)
	if err != nil {
		return KeyInfo{}, err
	}
	size, err := d.store.Size(ctx, name)
	if err != nil {
		return KeyInfo{}, err
	}
	return KeyInfo{Name: name, Type: t, Size: size}, nil
}

// Key shows one page of a key's contents. Pages are inclusive, so each one
// holds up to PageSize()+1 items.
func (d *Dashboard) Key(ctx context.Context, name string, start int64) (*KeyView, error) {
	info, err := d.keyInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	items, err := d.store.Range(ctx, name, start, d.pageSize)
	if err != nil {
		return nil, err
	}

	total := info.Size
	if info.Type == store.KeyString {
		total = 1
	}
	return &KeyView{
		KeyInfo: info,
		Items:   items,
		Pager:   NewPager(start, d.pageSize+1, total, int64(len(items))),
	}, nil
}

func (d *Dashboard) Info(ctx context.Context) (queue.Info, error) {
	return d.runtime.Info(ctx)
}

func (d *Dashboard) RedisInfo(ctx context.Context) (*RedisInfoView, error) {
	raw, err := d.store.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)

	fields := make([]InfoField, 0, len(names))
	for _, name := range names {
		fields = append(fields, InfoField{Name: name, Value: raw[name]})
	}
	return &RedisInfoView{Fields: fields}, nil
}

func (d *Dashboard) StatsText(ctx context.Context) (string, error) {
	return d.exporter.ExportText(ctx)
}
