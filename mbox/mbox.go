// Package mbox bundles extracted folders into mbox files.
package mbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/pst-to-mime/tree"
)

// DefaultSender is the envelope sender of messages without a usable From.
const DefaultSender = "MAILER-DAEMON"

// FileName returns the name of the mbox bundle of a folder.
func FileName(folderID uint64) string {
	return strconv.FormatUint(folderID, 10) + ".mbox"
}

// Packer writes one mbox file per extracted folder.
type Packer struct {
	destDir string
	logger  *slog.Logger
}

func NewPacker(destDir string, logger *slog.Logger) (*Packer, error) {
	if destDir == "" {
		return nil, fmt.Errorf("destination directory is empty")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Packer{destDir: destDir, logger: logger}, nil
}

// PackTree writes a bundle for every folder of t and returns the number of
// messages written.
func (p *Packer) PackTree(t tree.Tree) (int, error) {
	total := 0
	for _, folder := range t.Folders {
		n, err := p.Pack(folder)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Pack writes the messages of folder to <destDir>/<folderId>.mbox, replacing
// an existing bundle.
func (p *Packer) Pack(folder tree.Folder) (count int, err error) {
	path := filepath.Join(p.destDir, FileName(folder.ID))
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create mbox: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close mbox: %w", closeErr)
		}
	}()

	buffered := bufio.NewWriter(file)
	writer := mboxlib.NewWriter(buffered)
	for _, msg := range folder.Messages {
		if err := writeMessage(writer, msg); err != nil {
			return count, fmt.Errorf("folder %d: %w", folder.ID, err)
		}
		count++
	}
	if err := writer.Close(); err != nil {
		return count, fmt.Errorf("finish mbox: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return count, fmt.Errorf("flush mbox: %w", err)
	}

	p.logger.Info("Packed folder", "folderID", folder.ID, "name", folder.Name, "messages", count, "path", path)
	return count, nil
}

func writeMessage(writer *mboxlib.Writer, file tree.MessageFile) error {
	raw, err := os.ReadFile(file.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", file.Path, err)
	}
	sender, date := envelope(raw)
	if date.IsZero() {
		if info, err := os.Stat(file.Path); err == nil {
			date = info.ModTime()
		}
	}

	w, err := writer.CreateMessage(sender, date)
	if err != nil {
		return fmt.Errorf("start message %d: %w", file.ItemID, err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message %d: %w", file.ItemID, err)
	}
	return nil
}

// envelope derives the "From " line sender and date from the message header.
func envelope(raw []byte) (string, time.Time) {
	sender := DefaultSender
	var date time.Time

	header, err := tree.ParseHeader(raw)
	if err != nil {
		return sender, date
	}
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 && from[0].Address != "" {
		sender = from[0].Address
	}
	if d, err := header.Date(); err == nil {
		date = d
	}
	return sender, date
}

// Count returns the number of messages in the mbox file at path.
func Count(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return count, err
		}
		count++
	}
}
