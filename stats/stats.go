package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type Stage string

const (
	StageExtract Stage = "extract"
	StageTree    Stage = "tree"
	StageIMAP    Stage = "imap"
	StagePublish Stage = "publish"
)

type EventType string

const (
	EventTypeFoldersListed  EventType = "folders_listed"
	EventTypeFolderAccepted EventType = "folder_accepted"
	EventTypeFolderSkipped  EventType = "folder_skipped"
	EventTypeFolderDone     EventType = "folder_done"
	EventTypeFolderFailed   EventType = "folder_failed"
	EventTypeWritten        EventType = "written"
	EventTypeOmitted        EventType = "omitted"
	EventTypeCorrupt        EventType = "corrupt"

	EventTypeScanned      EventType = "scanned"
	EventTypeEnqueued     EventType = "enqueued"
	EventTypeUploaded     EventType = "uploaded"
	EventTypeDryRunUpload EventType = "dry_run_uploaded"
	EventTypeDuplicate    EventType = "duplicate"
	EventTypeError        EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	FolderID  uint64
	MessageID string
	Bytes     int64

	// Count carries the number of folders listed or messages written in a
	// folder.
	Count  int
	Err    error
	Detail string
}

// Sink receives events synchronously.
type Sink interface {
	Emit(evt Event)
}

// Sinks fans one event out to several sinks in order.
type Sinks []Sink

func (s Sinks) Emit(evt Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(evt)
		}
	}
}

type Summary struct {
	FoldersListed   int
	FoldersAccepted int
	FoldersSkipped  int
	FoldersFailed   int
	Written         int
	BytesWritten    int64
	Omitted         int
	Corrupt         int

	Scanned        int
	Enqueued       int
	Uploaded       int
	DryRunUploaded int
	Duplicates     int
	Errors         int
	LastError      error
}

// ExtractAttrs describes an extraction run.
func (s Summary) ExtractAttrs() []any {
	attrs := []any{
		"foldersAccepted", s.FoldersAccepted,
		"foldersSkipped", s.FoldersSkipped,
		"foldersFailed", s.FoldersFailed,
		"messages", s.Written,
		"size", humanize.Bytes(uint64(s.BytesWritten)),
		"omitted", s.Omitted,
		"corrupt", s.Corrupt,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// LogAttrs describes a push run.
func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"enqueued", s.Enqueued,
		"uploaded", s.Uploaded,
		"dryRunUploaded", s.DryRunUploaded,
		"duplicates", s.Duplicates,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Emit applies evt immediately. It makes a Collector usable as a Sink.
func (c *Collector) Emit(evt Event) {
	c.apply(evt)
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFoldersListed:
		c.summary.FoldersListed = evt.Count
	case EventTypeFolderAccepted:
		c.summary.FoldersAccepted++
	case EventTypeFolderSkipped:
		c.summary.FoldersSkipped++
	case EventTypeFolderFailed:
		c.summary.FoldersFailed++
		c.setLastError(evt.Err)
	case EventTypeWritten:
		c.summary.Written++
		c.summary.BytesWritten += evt.Bytes
	case EventTypeOmitted:
		c.summary.Omitted++
	case EventTypeCorrupt:
		c.summary.Corrupt++
		c.setLastError(evt.Err)
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeEnqueued:
		c.summary.Enqueued++
	case EventTypeUploaded:
		c.summary.Uploaded++
	case EventTypeDryRunUpload:
		c.summary.DryRunUploaded++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeError:
		c.summary.Errors++
		c.setLastError(evt.Err)
	}
}

func (c *Collector) setLastError(err error) {
	if err != nil {
		c.summary.LastError = err
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

// Pair is one counted value.
type Pair struct {
	Key   string
	Value int
}

// Top returns at most limit entries of m, most frequent first. Ties are
// broken by key so the order is deterministic.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
