package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dhcgn/pst-to-mime/archive"
	"github.com/dhcgn/pst-to-mime/model"
	"github.com/dhcgn/pst-to-mime/stats"
)

// MessageFileName returns the file name of the EML written for an item.
func MessageFileName(itemID uint64) string {
	return strconv.FormatUint(itemID, 10) + ".eml"
}

// Extractor writes the messages of one folder as EML files.
type Extractor struct {
	logger *slog.Logger
	events stats.Sink
}

func NewExtractor(logger *slog.Logger, events stats.Sink) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = stats.Sinks(nil)
	}
	return &Extractor{logger: logger, events: events}
}

// Extract writes every IPM.Note item of folder to outputDir and returns the
// number of files written.
//
// A corrupt item is skipped and extraction continues. Any other failure ends
// the folder; the count of files written so far is returned with the error.
func (e *Extractor) Extract(ctx context.Context, folder archive.Folder, outputDir string) (count int, err error) {
	folderID := folder.ID()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("folder %d: panic: %v", folderID, r)
		}
	}()

	e.logger.Info("Total messages being processed", "folderID", folderID, "items", folder.ItemCount())

	iter, err := folder.Items()
	if err != nil {
		return 0, fmt.Errorf("folder %d: list items: %w", folderID, err)
	}

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		item := iter.Item()
		record, err := inspect(item)
		if err != nil {
			e.skipCorrupt(folderID, record.ID, err)
			continue
		}

		if record.MessageClass != archive.MessageClassNote {
			e.logger.Info("Omitting non-message item", "folderID", folderID, "itemID", record.ID, "class", record.MessageClass)
			e.events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeOmitted, FolderID: folderID, MessageID: itemKey(record.ID), Detail: record.MessageClass})
			continue
		}

		msg, err := archive.Guard(item.Message)
		if errors.Is(err, archive.ErrCorrupt) {
			e.skipCorrupt(folderID, record.ID, err)
			continue
		} else if err != nil {
			return count, fmt.Errorf("folder %d: item %d: %w", folderID, record.ID, err)
		}

		path := filepath.Join(outputDir, MessageFileName(record.ID))
		e.logger.Info("Writing EML file", "path", path)
		size, err := writeMessage(path, msg)
		if err != nil {
			return count, fmt.Errorf("folder %d: item %d: %w", folderID, record.ID, err)
		}

		count++
		e.events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeWritten, FolderID: folderID, MessageID: itemKey(record.ID), Bytes: size})
	}

	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("folder %d: iterate items: %w", folderID, err)
	}

	e.logger.Info("Total messages extracted from folder", "folderID", folderID, "messages", count)
	return count, nil
}

func (e *Extractor) skipCorrupt(folderID, itemID uint64, err error) {
	e.logger.Warn("Skipping corrupt item", "folderID", folderID, "itemID", itemID, "err", err)
	e.events.Emit(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeCorrupt, FolderID: folderID, MessageID: itemKey(itemID), Err: err})
}

// inspect reads the metadata of item.
func inspect(item archive.Item) (model.ItemRecord, error) {
	var record model.ItemRecord
	if c, ok := item.(archive.Corrupted); ok {
		if err := c.Corruption(); err != nil {
			record.ID = item.ID()
			return record, err
		}
	}
	id, err := archive.Guard(func() (uint64, error) { return item.ID(), nil })
	if err != nil {
		return record, err
	}
	record.ID = id

	class, err := archive.Guard(func() (string, error) { return item.MessageClass(), nil })
	if err != nil {
		return record, err
	}
	record.MessageClass = class
	return record, nil
}

// writeMessage serializes msg to path. A partially written file is removed,
// also when WriteTo panics.
func writeMessage(path string, msg archive.Message) (n int64, err error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create EML file: %w", err)
	}
	complete := false
	defer func() {
		closeErr := file.Close()
		if err == nil && complete && closeErr != nil {
			n, err = 0, fmt.Errorf("close EML file %s: %w", path, closeErr)
		}
		if err != nil || !complete {
			_ = os.Remove(path)
		}
	}()

	n, err = msg.WriteTo(file)
	if err != nil {
		return 0, fmt.Errorf("write EML file %s: %w", path, err)
	}
	complete = true
	return n, nil
}

func itemKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
