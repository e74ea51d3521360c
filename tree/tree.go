// Package tree reads an extracted account directory back: the folder map,
// the top-level folder directory and the EML files below it.
package tree

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/pst-to-mime/foldermap"
	"github.com/dhcgn/pst-to-mime/model"
	"github.com/dhcgn/pst-to-mime/runner"
)

var (
	ErrNoTopDir        = errors.New("account directory has no top-level folder directory")
	ErrMissingFolder   = errors.New("folder listed in folder map has no directory")
	ErrAmbiguousTopDir = errors.New("account directory has more than one top-level folder directory")
)

// Tree is an extracted account.
type Tree struct {
	Account string
	Dir     string
	TopDir  string
	Folders []Folder
}

// Folder is one extracted folder with its messages in item id order.
type Folder struct {
	ID       uint64
	Name     string
	Dir      string
	Messages []MessageFile
}

type MessageFile struct {
	ItemID uint64
	Path   string
}

// MessageCount returns the number of EML files in the tree.
func (t Tree) MessageCount() int {
	n := 0
	for _, f := range t.Folders {
		n += len(f.Messages)
	}
	return n
}

// FolderMap returns the folder map entries the tree was scanned from.
func (t Tree) FolderMap() []model.FolderMapEntry {
	entries := make([]model.FolderMapEntry, 0, len(t.Folders))
	for _, f := range t.Folders {
		entries = append(entries, model.FolderMapEntry{FolderID: f.ID, SanitizedName: f.Name})
	}
	return entries
}

// Scan reads the account directory written by an extraction run. Folders
// are returned in folder map order.
func Scan(accountDir string) (Tree, error) {
	accountDir = filepath.Clean(accountDir)
	entries, err := foldermap.Load(filepath.Join(accountDir, foldermap.FileName))
	if err != nil {
		return Tree{}, err
	}

	topDir, err := findTopDir(accountDir)
	if err != nil {
		return Tree{}, err
	}

	t := Tree{Account: filepath.Base(accountDir), Dir: accountDir, TopDir: topDir}
	for _, entry := range entries {
		dir := filepath.Join(topDir, strconv.FormatUint(entry.FolderID, 10))
		messages, err := listMessages(dir)
		if errors.Is(err, os.ErrNotExist) {
			return Tree{}, fmt.Errorf("%w: %d", ErrMissingFolder, entry.FolderID)
		}
		if err != nil {
			return Tree{}, err
		}
		t.Folders = append(t.Folders, Folder{ID: entry.FolderID, Name: entry.SanitizedName, Dir: dir, Messages: messages})
	}
	return t, nil
}

func findTopDir(accountDir string) (string, error) {
	dirEntries, err := os.ReadDir(accountDir)
	if err != nil {
		return "", fmt.Errorf("read account directory: %w", err)
	}
	var dirs []string
	for _, e := range dirEntries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	switch len(dirs) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoTopDir, accountDir)
	case 1:
		return filepath.Join(accountDir, dirs[0]), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousTopDir, strings.Join(dirs, ", "))
	}
}

func listMessages(dir string) ([]MessageFile, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var messages []MessageFile
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".eml" {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSuffix(name, ".eml"), 10, 64)
		if err != nil {
			continue
		}
		messages = append(messages, MessageFile{ItemID: id, Path: filepath.Join(dir, name)})
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ItemID < messages[j].ItemID })
	return messages, nil
}

// Load reads one EML file into a model.Message. Messages without a
// Message-Id are identified by "<folderId>/<itemId>".
func Load(folder Folder, file MessageFile) (model.Message, error) {
	raw, err := os.ReadFile(file.Path)
	if err != nil {
		return model.Message{}, fmt.Errorf("read %s: %w", file.Path, err)
	}
	header, err := ParseHeader(raw)
	if err != nil {
		return model.Message{}, fmt.Errorf("parse %s: %w", file.Path, err)
	}

	id, err := header.MessageID()
	if err != nil || id == "" {
		id = fmt.Sprintf("%d/%d", folder.ID, file.ItemID)
	}
	var receivedAt time.Time
	if date, err := header.Date(); err == nil {
		receivedAt = date
	}

	sum := sha256.Sum256(raw)
	return model.Message{
		ID:         id,
		Hash:       base64.StdEncoding.EncodeToString(sum[:]),
		Path:       file.Path,
		FolderID:   folder.ID,
		ItemID:     file.ItemID,
		FolderName: folder.Name,
		ReceivedAt: receivedAt,
		Size:       int64(len(raw)),
		Raw:        raw,
	}, nil
}

// ParseHeader reads the header block of a raw message.
func ParseHeader(raw []byte) (mail.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return mail.Header{}, err
	}
	return mail.Header{Header: message.Header{Header: h}}, nil
}

// Producer feeds the messages of a tree into a runner.
type Producer struct {
	tree   Tree
	runner *runner.Runner
	logger *slog.Logger
}

func NewProducer(t Tree, r *runner.Runner, logger *slog.Logger) *Producer {
	p := &Producer{tree: t, runner: r, logger: logger}
	r.Go("tree", p.run)
	return p
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseIncoming()
	return p.Stream(ctx, p.runner.Incoming())
}

// Stream sends every message of the tree to out. Unreadable files are sent
// as envelopes carrying the error.
func (p *Producer) Stream(ctx context.Context, out chan<- model.Envelope) error {
	for _, folder := range p.tree.Folders {
		if p.logger != nil {
			p.logger.Debug("reading folder", "folderID", folder.ID, "name", folder.Name, "messages", len(folder.Messages))
		}
		for _, file := range folder.Messages {
			msg, err := Load(folder, file)
			env := model.Envelope{Message: msg, Err: err}
			if err != nil && p.logger != nil {
				p.logger.Error("tree stream error", "path", file.Path, "err", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- env:
			}
		}
	}
	return nil
}
