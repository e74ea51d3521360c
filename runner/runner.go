// Package runner moves the messages of an extracted account towards an
// upload stage. Between the producer and the uploader sits the route stage:
// it resolves each message's mailbox from the folder map and holds back the
// messages the upload ledger already has.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/pst-to-mime/config"
	"github.com/dhcgn/pst-to-mime/model"
	"github.com/dhcgn/pst-to-mime/state"
	"github.com/dhcgn/pst-to-mime/stats"
)

var ErrUnmappedFolder = errors.New("message folder is not in the folder map")

type StageFunc func(context.Context) error

type Runner struct {
	logger *slog.Logger
	parent context.Context
	ctx    context.Context
	group  *errgroup.Group

	mailboxes map[uint64]string
	ledger    *state.Ledger

	incoming chan model.Envelope
	routed   chan model.Message
	events   chan stats.Event

	subscribers sync.WaitGroup
	subMu       sync.Mutex
	subErr      error

	closeIncoming sync.Once
	started       time.Time
}

// New opens the upload ledger of account and prepares the route stage for
// the folders of the folder map.
func New(ctx context.Context, cfg config.Push, account string, folders []model.FolderMapEntry, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mailboxes := make(map[uint64]string, len(folders))
	for _, f := range folders {
		if _, dup := mailboxes[f.FolderID]; dup {
			return nil, fmt.Errorf("folder %d is mapped twice", f.FolderID)
		}
		mailboxes[f.FolderID] = Mailbox(cfg.TargetPrefix, f.SanitizedName)
	}

	ledger, err := state.Open(cfg.StateDir, account, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("upload ledger: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	r := &Runner{
		logger:    logger,
		parent:    ctx,
		ctx:       groupCtx,
		group:     group,
		mailboxes: mailboxes,
		ledger:    ledger,
		incoming:  make(chan model.Envelope, 32),
		routed:    make(chan model.Message, 32),
		events:    make(chan stats.Event, 128),
		started:   time.Now(),
	}
	r.Go("route", r.route)
	return r, nil
}

// Mailbox joins prefix and a sanitized folder name. Folder names keep their
// '/' hierarchy. Without either the message goes to INBOX.
func Mailbox(prefix, folderName string) string {
	name := path.Join("/", prefix, folderName)[1:]
	if name == "" {
		return "INBOX"
	}
	return name
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Ledger() *state.Ledger {
	return r.ledger
}

// Incoming is where the producer sends messages read from the tree.
func (r *Runner) Incoming() chan<- model.Envelope {
	return r.incoming
}

func (r *Runner) CloseIncoming() {
	r.closeIncoming.Do(func() { close(r.incoming) })
}

// Routed yields messages that carry their mailbox and still need an upload.
// It is closed once the route stage ends.
func (r *Runner) Routed() <-chan model.Message {
	return r.routed
}

// Emit hands evt to the stats subscribers. Events emitted after the push
// failed are dropped.
func (r *Runner) Emit(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats runs fn over the event stream until Wait closes it.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers.Add(1)
	go func() {
		defer r.subscribers.Done()
		if err := fn(r.parent, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.subMu.Lock()
			if r.subErr == nil {
				r.subErr = fmt.Errorf("%s stats: %w", name, err)
			}
			r.subMu.Unlock()
		}
	}()
}

// Go starts a stage. The first stage to fail cancels the others.
func (r *Runner) Go(name string, fn StageFunc) {
	r.group.Go(func() error {
		if err := fn(r.ctx); err != nil {
			return fmt.Errorf("%s stage: %w", name, err)
		}
		return nil
	})
}

// Wait blocks until every stage and subscriber is done, closes the ledger
// and returns the first failure.
func (r *Runner) Wait() error {
	err := r.group.Wait()
	close(r.events)
	r.subscribers.Wait()

	if closeErr := r.ledger.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = r.subErr
	}

	if err != nil {
		r.logger.Error("Push failed", "duration", time.Since(r.started), "err", err)
		return err
	}
	r.logger.Info("Push finished", "duration", time.Since(r.started), "ledger", r.ledger.Len(), "mailboxes", len(r.ledger.Mailboxes()))
	return nil
}

func (r *Runner) route(ctx context.Context) error {
	defer close(r.routed)
	for {
		var envelope model.Envelope
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-r.incoming:
			if !ok {
				return nil
			}
			envelope = env
		}

		if envelope.Err != nil {
			r.Emit(stats.Event{Stage: stats.StageTree, Type: stats.EventTypeError, Err: envelope.Err})
			return fmt.Errorf("read extracted message: %w", envelope.Err)
		}

		msg := envelope.Message
		key := state.KeyOf(msg).String()
		r.Emit(stats.Event{Stage: stats.StageTree, Type: stats.EventTypeScanned, FolderID: msg.FolderID, MessageID: key, Bytes: msg.Size})

		mailbox, ok := r.mailboxes[msg.FolderID]
		if !ok {
			err := fmt.Errorf("%w: %s", ErrUnmappedFolder, key)
			r.Emit(stats.Event{Stage: stats.StageTree, Type: stats.EventTypeError, FolderID: msg.FolderID, MessageID: key, Err: err})
			return err
		}
		msg.Mailbox = mailbox

		if r.ledger.Holds(msg) {
			r.logger.Debug("Already uploaded", "message", key, "mailbox", mailbox)
			r.Emit(stats.Event{Stage: stats.StageTree, Type: stats.EventTypeDuplicate, FolderID: msg.FolderID, MessageID: key})
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case r.routed <- msg:
			r.Emit(stats.Event{Stage: stats.StageTree, Type: stats.EventTypeEnqueued, FolderID: msg.FolderID, MessageID: key})
		}
	}
}
