// Package archivetest provides an in-memory archive for tests.
package archivetest

import (
	"errors"
	"fmt"
	"io"

	"github.com/dhcgn/pst-to-mime/archive"
)

// Archive is an in-memory archive.Archive.
type Archive struct {
	FolderList []*Folder
	FoldersErr error
	Closed     bool
}

// New returns an archive holding folders in the given order.
func New(folders ...*Folder) *Archive {
	return &Archive{FolderList: folders}
}

// Opener returns an archive.OpenFunc that always yields a.
func (a *Archive) Opener() archive.OpenFunc {
	return func(string) (archive.Archive, error) {
		return a, nil
	}
}

func (a *Archive) Folders() ([]archive.Folder, error) {
	if a.FoldersErr != nil {
		return nil, a.FoldersErr
	}
	folders := make([]archive.Folder, 0, len(a.FolderList))
	for _, f := range a.FolderList {
		folders = append(folders, f)
	}
	return folders, nil
}

func (a *Archive) Close() error {
	a.Closed = true
	return nil
}

// Folder is an in-memory archive.Folder.
type Folder struct {
	FolderID   uint64
	FolderName string
	ItemList   []*Item
	ItemsErr   error
	// IterErr is returned by the iterator after every item was yielded.
	IterErr error
}

// NewFolder returns a folder holding items.
func NewFolder(id uint64, name string, items ...*Item) *Folder {
	return &Folder{FolderID: id, FolderName: name, ItemList: items}
}

func (f *Folder) ID() uint64     { return f.FolderID }
func (f *Folder) Name() string   { return f.FolderName }
func (f *Folder) ItemCount() int { return len(f.ItemList) }

func (f *Folder) Items() (archive.ItemIterator, error) {
	if f.ItemsErr != nil {
		return nil, f.ItemsErr
	}
	return &iterator{items: f.ItemList, err: f.IterErr, pos: -1}, nil
}

type iterator struct {
	items []*Item
	err   error
	pos   int
}

func (it *iterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *iterator) Item() archive.Item {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos]
}

func (it *iterator) Err() error {
	if it.pos >= len(it.items) {
		return it.err
	}
	return nil
}

// Item is an in-memory archive.Item.
type Item struct {
	ItemID uint64
	Class  string
	Body   string
	// Err is returned by Message.
	Err error
	// Panic, when non-nil, is raised by Message.
	Panic any
	// Materialized, when non-nil, is returned by Message instead of a
	// generated message.
	Materialized archive.Message
	// Fault marks a record that could not be decoded at all.
	Fault error
}

// Note returns an IPM.Note item whose EML body is body.
func Note(id uint64, body string) *Item {
	return &Item{ItemID: id, Class: archive.MessageClassNote, Body: body}
}

// WithClass returns an item with an arbitrary message class.
func WithClass(id uint64, class string) *Item {
	return &Item{ItemID: id, Class: class, Body: "class " + class}
}

// Corrupt returns an IPM.Note item whose materialization fails with
// archive.ErrCorrupt.
func Corrupt(id uint64) *Item {
	return &Item{ItemID: id, Class: archive.MessageClassNote, Err: fmt.Errorf("%w: bad block", archive.ErrCorrupt)}
}

// OutOfRange returns an IPM.Note item whose materialization panics with an
// index out of range, as a parser does on truncated data.
func OutOfRange(id uint64) *Item {
	return &Item{ItemID: id, Class: archive.MessageClassNote, Panic: outOfRange()}
}

func outOfRange() (r any) {
	defer func() {
		r = recover()
	}()
	var data []byte
	i := 3
	_ = data[i]
	return nil
}

func (i *Item) ID() uint64           { return i.ItemID }
func (i *Item) MessageClass() string { return i.Class }
func (i *Item) Corruption() error    { return i.Fault }

// Undecodable returns an item whose record could not be decoded.
func Undecodable(id uint64) *Item {
	return &Item{ItemID: id, Fault: fmt.Errorf("%w: message %d: bad node", archive.ErrCorrupt, id)}
}

func (i *Item) Message() (archive.Message, error) {
	if i.Panic != nil {
		panic(i.Panic)
	}
	if i.Err != nil {
		return nil, i.Err
	}
	if i.Materialized != nil {
		return i.Materialized, nil
	}
	return message(fmt.Sprintf("Subject: item %d\r\n\r\n%s\r\n", i.ItemID, i.Body)), nil
}

type message string

func (m message) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, string(m))
	return int64(n), err
}

// ErrWrite is returned by the message of a WriteFailure item.
var ErrWrite = errors.New("write failed")

// WriteFailure returns an IPM.Note item whose message fails halfway through
// serialization.
func WriteFailure(id uint64) *Item {
	return &Item{ItemID: id, Class: archive.MessageClassNote, Materialized: FailingWriter{}}
}

// FailingWriter is an archive.Message that fails while being written.
type FailingWriter struct{}

func (FailingWriter) WriteTo(w io.Writer) (int64, error) {
	n, _ := io.WriteString(w, "Subject: partial\r\n")
	return int64(n), ErrWrite
}

// WritePanic returns an IPM.Note item whose message panics with an index out
// of range halfway through serialization.
func WritePanic(id uint64) *Item {
	return &Item{ItemID: id, Class: archive.MessageClassNote, Materialized: PanickingWriter{}}
}

// PanickingWriter is an archive.Message that panics while being written.
type PanickingWriter struct{}

func (PanickingWriter) WriteTo(w io.Writer) (int64, error) {
	_, _ = io.WriteString(w, "Subject: partial\r\n")
	var data []byte
	i := 3
	return int64(data[i]), nil
}
