// Package stats renders the runtime counters as flat name=value lines for
// scrapers. A "+=" separator marks a cumulative counter; it is only a label.
package stats

import (
	"context"
	"fmt"
	"strings"

	"github.com/nadmax/resqview/internal/queue"
)

// Source is the slice of the queue runtime the exporter reads.
type Source interface {
	Snapshot(ctx context.Context) (queue.Info, []queue.QueueSize, error)
}

type Exporter struct {
	source Source
	prefix string
}

func NewExporter(source Source, prefix string) *Exporter {
	if prefix == "" {
		prefix = "resque"
	}
	return &Exporter{source: source, prefix: prefix}
}

// Lines returns the fixed metrics first, then one line per queue in the
// order the runtime lists them.
func (e *Exporter) Lines(ctx context.Context) ([]string, error) {
	info, sizes, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Format(e.prefix, info, sizes), nil
}

func (e *Exporter) ExportText(ctx context.Context) (string, error) {
	lines, err := e.Lines(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// Format writes pending as the sum of sizes so it always agrees with the
// queues.* lines.
func Format(prefix string, info queue.Info, sizes []queue.QueueSize) []string {
	var pending int64
	for _, q := range sizes {
		pending += q.Size
	}

	lines := []string{
		fmt.Sprintf("%s.pending=%d", prefix, pending),
		fmt.Sprintf("%s.processed+=%d", prefix, info.Processed),
		fmt.Sprintf("%s.failed+=%d", prefix, info.Failed),
		fmt.Sprintf("%s.workers=%d", prefix, info.Workers),
		fmt.Sprintf("%s.working=%d", prefix, info.Working),
	}
	for _, q := range sizes {
		lines = append(lines, fmt.Sprintf("queues.%s=%d", q.Name, q.Size))
	}
	return lines
}
