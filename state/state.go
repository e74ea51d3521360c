// Package state keeps the upload ledger of an account: one JSON line per
// message appended to the IMAP server, keyed by the folder id and item id
// the message had in the archive.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dhcgn/pst-to-mime/model"
	"github.com/dhcgn/pst-to-mime/sanitize"
)

var ErrNoIdentity = errors.New("message has no folder or item id")

// Key is the archive identity of an extracted message. It is stable across
// extraction runs of the same PST file, unlike the Message-Id header, which
// may be missing or shared.
type Key struct {
	FolderID uint64
	ItemID   uint64
}

func KeyOf(msg model.Message) Key {
	return Key{FolderID: msg.FolderID, ItemID: msg.ItemID}
}

func (k Key) String() string {
	return strconv.FormatUint(k.FolderID, 10) + "/" + strconv.FormatUint(k.ItemID, 10)
}

// Entry is one line of the ledger file.
type Entry struct {
	FolderID  uint64 `json:"folder_id"`
	ItemID    uint64 `json:"item_id"`
	Mailbox   string `json:"mailbox"`
	Hash      string `json:"hash"`
	MessageID string `json:"message_id,omitempty"`
}

func (e Entry) key() Key {
	return Key{FolderID: e.FolderID, ItemID: e.ItemID}
}

// Ledger is safe for concurrent use. Without persistence, recorded entries
// live only as long as the ledger; dry runs use this to count what a real
// run would upload.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[Key]Entry
	file    *os.File
	enc     *json.Encoder
}

// Open loads <stateDir>/<account>.jsonl. With persist set, later calls to
// Record append to it.
func Open(stateDir, account string, persist bool) (*Ledger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("state account is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	l := &Ledger{
		path:    filepath.Join(stateDir, sanitize.Segment(account)+".jsonl"),
		entries: make(map[Key]Entry),
	}
	if err := l.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		l.file = file
		l.enc = json.NewEncoder(file)
	}
	return l, nil
}

// load replays the ledger file. A later line for the same key replaces the
// earlier one.
func (l *Ledger) load() error {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if entry.ItemID == 0 {
			return fmt.Errorf("parse state line %d: %w", line, ErrNoIdentity)
		}
		l.entries[entry.key()] = entry
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	return nil
}

func (l *Ledger) Path() string {
	return l.path
}

// Holds reports whether msg was already appended to msg.Mailbox with the
// same content. A message whose file changed, or whose folder now maps to a
// different mailbox, is not held.
func (l *Ledger) Holds(msg model.Message) bool {
	l.mu.Lock()
	entry, ok := l.entries[KeyOf(msg)]
	l.mu.Unlock()
	return ok && entry.Mailbox == msg.Mailbox && entry.Hash == msg.Hash
}

// Record notes that msg was appended to msg.Mailbox.
func (l *Ledger) Record(msg model.Message) error {
	if msg.ItemID == 0 {
		return fmt.Errorf("record %s: %w", msg.Path, ErrNoIdentity)
	}
	entry := Entry{
		FolderID:  msg.FolderID,
		ItemID:    msg.ItemID,
		Mailbox:   msg.Mailbox,
		Hash:      msg.Hash,
		MessageID: msg.ID,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.entries[entry.key()]; ok && prev == entry {
		return nil
	}
	l.entries[entry.key()] = entry
	if l.enc == nil {
		return nil
	}
	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("write state entry %s: %w", entry.key(), err)
	}
	return nil
}

// Len returns the number of messages in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Mailboxes counts ledger entries per mailbox.
func (l *Ledger) Mailboxes() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range l.entries {
		counts[e.Mailbox]++
	}
	return counts
}

func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	file := l.file
	l.file, l.enc = nil, nil

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	return nil
}
