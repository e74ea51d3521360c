package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/pst-to-mime/model"
	"github.com/dhcgn/pst-to-mime/runner"
	"github.com/dhcgn/pst-to-mime/state"
	"github.com/dhcgn/pst-to-mime/stats"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	DryRun             bool
}

// Uploader appends routed messages to their mailbox, creating mailboxes on
// first use, and records each append in the upload ledger.
type Uploader struct {
	opts      Options
	runner    *runner.Runner
	ledger    *state.Ledger
	logger    *slog.Logger
	mailboxes map[string]bool
}

func NewUploader(opts Options, r *runner.Runner, logger *slog.Logger) (*Uploader, error) {
	if opts.Host == "" && !opts.DryRun {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 && !opts.DryRun {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = r.Logger()
	}
	uploader := &Uploader{
		opts:      opts,
		runner:    r,
		ledger:    r.Ledger(),
		logger:    logger,
		mailboxes: make(map[string]bool),
	}
	r.Go("imap", uploader.run)
	return uploader, nil
}

func (u *Uploader) run(ctx context.Context) error {
	var (
		client  *imapclient.Client
		cleanup func()
	)
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	for {
		var msg model.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-u.runner.Routed():
			if !ok {
				return nil
			}
			msg = m
		}
		key := state.KeyOf(msg).String()

		if u.opts.DryRun {
			if err := u.ledger.Record(msg); err != nil {
				return u.fail(msg, err)
			}
			u.runner.Emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeDryRunUpload, FolderID: msg.FolderID, MessageID: key})
			u.logger.Debug("Would upload message", "message", key, "mailbox", msg.Mailbox)
			continue
		}

		if client == nil {
			var err error
			client, cleanup, err = u.dial(ctx)
			if err != nil {
				return u.fail(msg, err)
			}
		}
		if err := u.ensureMailbox(client, msg.Mailbox); err != nil {
			return u.fail(msg, err)
		}
		if err := u.appendMessage(client, msg); err != nil {
			return u.fail(msg, fmt.Errorf("upload message %s: %w", key, err))
		}
		if err := u.ledger.Record(msg); err != nil {
			return u.fail(msg, err)
		}

		u.runner.Emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeUploaded, FolderID: msg.FolderID, MessageID: key, Bytes: msg.Size})
		u.logger.Debug("Uploaded message", "message", key, "mailbox", msg.Mailbox, "messageID", msg.ID)
	}
}

func (u *Uploader) fail(msg model.Message, err error) error {
	u.runner.Emit(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeError, FolderID: msg.FolderID, MessageID: state.KeyOf(msg).String(), Err: err})
	return err
}

func (u *Uploader) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if u.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "tls", u.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				u.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			u.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (u *Uploader) appendMessage(client *imapclient.Client, msg model.Message) error {
	size := int64(len(msg.Raw))

	var opts *imapv2.AppendOptions
	if !msg.ReceivedAt.IsZero() {
		opts = &imapv2.AppendOptions{Time: msg.ReceivedAt}
	}

	cmd := client.Append(msg.Mailbox, size, opts)

	remaining := msg.Raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (u *Uploader) ensureMailbox(client *imapclient.Client, target string) error {
	if u.mailboxes[target] {
		return nil
	}

	cmd := client.Create(target, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if !errors.As(err, &respErr) || respErr.Code != imapv2.ResponseCodeAlreadyExists {
			return fmt.Errorf("ensure mailbox %s: %w", target, err)
		}
		u.logger.Debug("imap mailbox already exists", "mailbox", target)
	} else {
		u.logger.Info("imap mailbox created", "mailbox", target)
	}

	u.mailboxes[target] = true
	return nil
}
