// Package summary groups the failure log for presentation. Every call scans
// the whole log and nothing is cached, so a summary never lags behind a
// requeue, removal or clear.
package summary

import (
	"context"

	"github.com/nadmax/resqview/internal/failure"
)

// Source is the part of the failure index the aggregator reads.
type Source interface {
	Count(ctx context.Context) (int64, error)
	All(ctx context.Context, start, limit int64) ([]*failure.Record, error)
}

type Group struct {
	Key     string            `json:"key"`
	Count   int               `json:"count"`
	Records []*failure.Record `json:"-"`
}

// Summary keeps groups in the order their keys were first seen.
type Summary struct {
	Groups []*Group `json:"groups"`
	byKey  map[string]*Group
}

func newSummary() *Summary {
	return &Summary{Groups: []*Group{}, byKey: make(map[string]*Group)}
}

func (s *Summary) add(key string, rec *failure.Record) {
	g, ok := s.byKey[key]
	if !ok {
		g = &Group{Key: key}
		s.byKey[key] = g
		s.Groups = append(s.Groups, g)
	}
	g.Count++
	g.Records = append(g.Records, rec)
}

// Group returns the named group, or an empty one when nothing matched.
func (s *Summary) Group(key string) *Group {
	if g, ok := s.byKey[key]; ok {
		return g
	}
	return &Group{Key: key, Records: []*failure.Record{}}
}

func (s *Summary) Total() int {
	total := 0
	for _, g := range s.Groups {
		total += g.Count
	}
	return total
}

// Records concatenates every group's records in group order.
func (s *Summary) Records() []*failure.Record {
	out := make([]*failure.Record, 0, s.Total())
	for _, g := range s.Groups {
		out = append(out, g.Records...)
	}
	return out
}

type Aggregator struct {
	source Source
}

func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

func (a *Aggregator) scan(ctx context.Context) ([]*failure.Record, error) {
	n, err := a.source.Count(ctx)
	if err != nil {
		return nil, err
	}
	return a.source.All(ctx, 0, n)
}

// ByQueue groups every failure by the queue it failed on.
func (a *Aggregator) ByQueue(ctx context.Context) (*Summary, error) {
	records, err := a.scan(ctx)
	if err != nil {
		return nil, err
	}

	s := newSummary()
	for _, rec := range records {
		s.add(rec.Queue, rec)
	}
	return s, nil
}

// ByException groups the failures of one queue by exception kind.
func (a *Aggregator) ByException(ctx context.Context, queueName string) (*Summary, error) {
	records, err := a.scan(ctx)
	if err != nil {
		return nil, err
	}

	s := newSummary()
	for _, rec := range records {
		if rec.Queue == queueName {
			s.add(rec.Exception, rec)
		}
	}
	return s, nil
}

// Page returns up to size records starting at start.
func Page[T any](items []T, start, size int) []T {
	if start < 0 {
		start = 0
	}
	if size <= 0 || start >= len(items) {
		return []T{}
	}
	return items[start:min(start+size, len(items))]
}
