// Package publish copies an extracted account tree to object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"sync"

	"github.com/dhcgn/pst-to-mime/stats"
)

// Object is one file to upload.
type Object struct {
	Path        string
	Bucket      string
	Key         string
	ContentType string
}

// Store uploads objects.
type Store interface {
	Put(ctx context.Context, obj Object) error
}

type Options struct {
	Bucket      string
	Prefix      string
	Concurrency int
}

// Publisher uploads every file below an account directory to
// <Prefix>/<account>/<relative path>.
type Publisher struct {
	opts   Options
	store  Store
	logger *slog.Logger
	events stats.Sink
}

func New(opts Options, store Store, logger *slog.Logger, events stats.Sink) (*Publisher, error) {
	if opts.Bucket == "" {
		return nil, errors.New("bucket is empty")
	}
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = stats.Sinks(nil)
	}
	return &Publisher{opts: opts, store: store, logger: logger, events: events}, nil
}

// Objects lists the uploads for accountDir in walk order.
func (p *Publisher) Objects(accountDir string) ([]Object, error) {
	accountDir = filepath.Clean(accountDir)
	account := filepath.Base(accountDir)

	var objects []Object
	err := filepath.WalkDir(accountDir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(accountDir, file)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Path:        file,
			Bucket:      p.opts.Bucket,
			Key:         path.Join(p.opts.Prefix, account, filepath.ToSlash(rel)),
			ContentType: contentType(file),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", accountDir, err)
	}
	return objects, nil
}

// Publish uploads the account tree and returns the number of objects
// uploaded. Uploads stop at the first failure.
func (p *Publisher) Publish(ctx context.Context, accountDir string) (int, error) {
	objects, err := p.Objects(accountDir)
	if err != nil {
		return 0, err
	}
	p.logger.Info("Publishing account", "objects", len(objects), "bucket", p.opts.Bucket, "prefix", p.opts.Prefix)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan Object)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		uploaded int
	)
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for obj := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := p.store.Put(ctx, obj); err != nil {
					p.events.Emit(stats.Event{Stage: stats.StagePublish, Type: stats.EventTypeError, MessageID: obj.Key, Err: err})
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
					continue
				}
				p.logger.Debug("uploaded object", "key", obj.Key)
				p.events.Emit(stats.Event{Stage: stats.StagePublish, Type: stats.EventTypeUploaded, MessageID: obj.Key})
				mu.Lock()
				uploaded++
				mu.Unlock()
			}
		}()
	}

feed:
	for _, obj := range objects {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- obj:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return uploaded, firstErr
	}
	if err := ctx.Err(); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

func contentType(file string) string {
	switch filepath.Ext(file) {
	case ".eml":
		return "message/rfc822"
	case ".tsv":
		return "text/tab-separated-values"
	default:
		return ""
	}
}
