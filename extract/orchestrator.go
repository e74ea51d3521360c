// Package extract converts an opened mail archive into a tree of EML files.
//
// A run works in two passes over the archive's folder list. The first pass
// selects folders, creates one directory per accepted folder (named by the
// folder id) and records each folder in folder_map.tsv. The second pass writes
// the messages of every accepted folder. Failures are contained: a corrupt
// item only loses that item and a failing folder only loses the rest of that
// folder.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dhcgn/pst-to-mime/archive"
	"github.com/dhcgn/pst-to-mime/filter"
	"github.com/dhcgn/pst-to-mime/foldermap"
	"github.com/dhcgn/pst-to-mime/model"
	"github.com/dhcgn/pst-to-mime/sanitize"
	"github.com/dhcgn/pst-to-mime/stats"
)

var (
	ErrInvalidAccount = errors.New("invalid account name")
	ErrOutputExists   = errors.New("account output directory already exists")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Options struct {
	// OutputRoot is the directory that receives one sub-directory per account.
	OutputRoot string
	// Force allows writing into an existing account directory.
	Force bool
	// Open opens the archive; archive.OpenPST when nil.
	Open archive.OpenFunc
	// Selector decides which folders are extracted; filter defaults when nil.
	Selector *filter.Selector
	// Events receives progress events in addition to the run summary.
	Events stats.Sink
	Logger *slog.Logger
}

type Orchestrator struct {
	opts     Options
	logger   *slog.Logger
	selector *filter.Selector
}

func New(opts Options) (*Orchestrator, error) {
	if strings.TrimSpace(opts.OutputRoot) == "" {
		return nil, fmt.Errorf("output root is empty")
	}
	if opts.Open == nil {
		opts.Open = archive.OpenPST
	}

	selector := opts.Selector
	if selector == nil {
		var err error
		selector, err = filter.New(filter.Options{})
		if err != nil {
			return nil, fmt.Errorf("default folder selector: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{opts: opts, logger: logger, selector: selector}, nil
}

// AccountDir returns the directory a run for accountName writes to.
func (o *Orchestrator) AccountDir(accountName string) string {
	return filepath.Join(o.opts.OutputRoot, accountName)
}

// Run extracts the archive at pstPath into OutputRoot/accountName. The
// returned error is only non-nil for failures that prevent the run as a
// whole: invalid arguments, an unreadable archive or an unwritable output
// tree.
func (o *Orchestrator) Run(ctx context.Context, pstPath, accountName string) (stats.Summary, error) {
	collector := stats.NewCollector()
	events := stats.Sinks{collector, o.opts.Events}

	accountDir, err := o.prepare(pstPath, accountName)
	if err != nil {
		return collector.Snapshot(), err
	}
	o.logger.Debug("Setting MIME folder", "path", accountDir)
	o.logger.Info("Extracting MIME data from PST file", "pst", pstPath)

	arc, err := o.opts.Open(pstPath)
	if err != nil {
		return collector.Snapshot(), fmt.Errorf("open archive %s: %w", pstPath, err)
	}
	defer func() {
		if err := arc.Close(); err != nil {
			o.logger.Warn("closing archive failed", "pst", pstPath, "err", err)
		}
	}()

	folders, err := arc.Folders()
	if err != nil {
		return collector.Snapshot(), fmt.Errorf("list folders: %w", err)
	}
	events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFoldersListed, Count: len(folders)})

	topDir := filepath.Join(accountDir, topLevelName(folders))
	if err := ensureDir(topDir); err != nil {
		return collector.Snapshot(), err
	}

	recorder, err := foldermap.NewRecorder(accountDir)
	if err != nil {
		return collector.Snapshot(), err
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			o.logger.Error("closing folder map failed", "path", recorder.Path(), "err", err)
		}
	}()

	accepted, err := o.scaffold(ctx, folders, topDir, recorder, events)
	if err != nil {
		return collector.Snapshot(), err
	}

	total, err := o.extract(ctx, folders, accepted, events)
	if err != nil {
		return collector.Snapshot(), err
	}

	o.logger.Info("Total messages extracted from PST", "messages", total)
	return collector.Snapshot(), nil
}

// prepare validates the arguments of a run and creates the account directory.
func (o *Orchestrator) prepare(pstPath, accountName string) (string, error) {
	if err := validateAccount(accountName); err != nil {
		return "", err
	}
	if !identifierPattern.MatchString(accountName) {
		o.logger.Warn("Account name is not a valid identifier; problems may occur", "account", accountName)
	}

	info, err := os.Stat(pstPath)
	if err != nil {
		return "", fmt.Errorf("can't find PST file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("PST path %s is not a regular file", pstPath)
	}

	root, err := filepath.Abs(o.opts.OutputRoot)
	if err != nil {
		return "", fmt.Errorf("resolve output root: %w", err)
	}
	info, err = os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("can't find output folder: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("output root %s is not a directory", root)
	}

	accountDir := filepath.Join(root, accountName)
	if _, err := os.Stat(accountDir); err == nil {
		if !o.opts.Force {
			return "", fmt.Errorf("%w: %s", ErrOutputExists, accountDir)
		}
		if err := o.clearAccount(accountDir); err != nil {
			return "", err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat account directory: %w", err)
	}

	if err := ensureDir(accountDir); err != nil {
		return "", err
	}
	return accountDir, nil
}

// clearAccount removes the folder map and the folder directories of an
// earlier run, so every folder directory left afterwards has a map entry.
// Other files are kept.
func (o *Orchestrator) clearAccount(accountDir string) error {
	entries, err := os.ReadDir(accountDir)
	if err != nil {
		return fmt.Errorf("read account directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && e.Name() != foldermap.FileName {
			continue
		}
		path := filepath.Join(accountDir, e.Name())
		o.logger.Info("Removing output of earlier run", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove earlier output: %w", err)
		}
	}
	return nil
}

// scaffold is the first pass: select folders, create their directories and
// record them in the folder map.
func (o *Orchestrator) scaffold(ctx context.Context, folders []archive.Folder, topDir string, recorder *foldermap.Recorder, events stats.Sink) (map[uint64]model.SanitizedFolder, error) {
	o.logger.Info("Collecting folders to process", "folders", len(folders))

	accepted := make(map[uint64]model.SanitizedFolder, len(folders))
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record := model.FolderRecord{ID: folder.ID(), RawName: folder.Name(), ItemCount: folder.ItemCount()}
		if !o.selector.ShouldProcess(record.RawName) {
			o.logger.Info("Skipping message folder", "folderID", record.ID, "name", record.RawName)
			events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFolderSkipped, FolderID: record.ID, Detail: "excluded"})
			continue
		}
		if _, dup := accepted[record.ID]; dup {
			o.logger.Warn("Skipping folder with duplicate id", "folderID", record.ID, "name", record.RawName)
			events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFolderSkipped, FolderID: record.ID, Detail: "duplicate"})
			continue
		}

		sanitized := model.SanitizedFolder{
			ID:            record.ID,
			SanitizedPath: sanitize.FolderName(record.RawName),
			OutputDir:     filepath.Join(topDir, strconv.FormatUint(record.ID, 10)),
		}
		if err := ensureDir(sanitized.OutputDir); err != nil {
			return nil, err
		}
		if err := recorder.Record(sanitized.ID, sanitized.SanitizedPath); err != nil {
			return nil, err
		}

		accepted[sanitized.ID] = sanitized
		o.logger.Info("Adding message folder", "folderID", record.ID, "name", sanitized.SanitizedPath, "items", record.ItemCount)
		events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFolderAccepted, FolderID: record.ID, Detail: sanitized.SanitizedPath})
	}
	return accepted, nil
}

// extract is the second pass. Folders without an entry in accepted were
// excluded in the first pass.
func (o *Orchestrator) extract(ctx context.Context, folders []archive.Folder, accepted map[uint64]model.SanitizedFolder, events stats.Sink) (int, error) {
	o.logger.Info("Processing folders")

	extractor := NewExtractor(o.logger, events)
	extracted := make(map[uint64]bool, len(accepted))
	total := 0
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		id := folder.ID()
		target, ok := accepted[id]
		if !ok || extracted[id] {
			continue
		}
		extracted[id] = true

		o.logger.Info("Processing folder", "folderID", id, "path", target.OutputDir)
		count, err := extractor.Extract(ctx, folder, target.OutputDir)
		total += count
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return total, err
			}
			o.logger.Error("Extracting folder failed", "folderID", id, "messages", count, "err", err)
			events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFolderFailed, FolderID: id, Count: count, Err: err})
			continue
		}
		events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeFolderDone, FolderID: id, Count: count})
	}
	return total, nil
}

func validateAccount(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidAccount)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidAccount, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidAccount, name)
	}
	return nil
}

// topLevelName derives the account's top-level directory from the first
// folder of the archive.
func topLevelName(folders []archive.Folder) string {
	if len(folders) == 0 {
		return sanitize.Placeholder
	}
	return sanitize.Segment(folders[0].Name())
}

// ensureDir creates dir and its parents; an existing directory is fine.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}
