// Package foldermap maintains folder_map.tsv, the durable cross-reference
// between archive folder ids and their sanitized names.
package foldermap

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dhcgn/pst-to-mime/model"
)

// FileName is the name of the folder map inside an account directory.
const FileName = "folder_map.tsv"

// Recorder appends folder map entries to a single file. The file is created on
// first use and never rewritten.
type Recorder struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewRecorder returns a Recorder writing to FileName inside accountDir.
func NewRecorder(accountDir string) (*Recorder, error) {
	if strings.TrimSpace(accountDir) == "" {
		return nil, fmt.Errorf("account directory is empty")
	}
	return &Recorder{path: filepath.Join(accountDir, FileName)}, nil
}

// Path returns the location of the folder map file.
func (r *Recorder) Path() string {
	return r.path
}

// Record appends one "<folderID>\t<sanitizedName>" line. Each line is handed
// to the operating system in a single write so readers never observe half a
// record.
func (r *Recorder) Record(folderID uint64, sanitizedName string) error {
	line := formatLine(folderID, sanitizedName)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		file, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open folder map: %w", err)
		}
		r.file = file
	}

	if _, err := r.file.WriteString(line); err != nil {
		return fmt.Errorf("write folder map entry %d: %w", folderID, err)
	}
	return nil
}

// Close syncs and closes the folder map file. It is a no-op when nothing was
// recorded.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}

	var firstErr error
	if err := r.file.Sync(); err != nil {
		firstErr = fmt.Errorf("sync folder map: %w", err)
	}
	if err := r.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close folder map: %w", err)
	}
	r.file = nil
	return firstErr
}

// Load reads every entry of the folder map at path, in file order.
func Load(path string) ([]model.FolderMapEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open folder map: %w", err)
	}
	defer file.Close()

	var entries []model.FolderMapEntry
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if text == "" {
			continue
		}

		entry, err := parseLine(text)
		if err != nil {
			return nil, fmt.Errorf("parse folder map line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read folder map: %w", err)
	}

	return entries, nil
}

var errMalformedLine = errors.New("expected <folder id><TAB><name>")

func formatLine(folderID uint64, sanitizedName string) string {
	name := strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return '_'
		}
		return r
	}, sanitizedName)
	return strconv.FormatUint(folderID, 10) + "\t" + name + "\n"
}

func parseLine(text string) (model.FolderMapEntry, error) {
	id, name, ok := strings.Cut(text, "\t")
	if !ok {
		return model.FolderMapEntry{}, errMalformedLine
	}
	folderID, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return model.FolderMapEntry{}, fmt.Errorf("folder id %q: %w", id, err)
	}
	return model.FolderMapEntry{FolderID: folderID, SanitizedName: name}, nil
}
