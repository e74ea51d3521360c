// Package archive describes the capabilities the extractor needs from a mail
// archive container, and provides an implementation for PST files.
package archive

import (
	"errors"
	"fmt"
	"io"
	"runtime"
)

// MessageClassNote is the message class of a standard email message.
const MessageClassNote = "IPM.Note"

// ErrCorrupt marks a structural fault in the archive data of a single item,
// for example a reference that points outside its block.
var ErrCorrupt = errors.New("corrupt archive item")

// OpenFunc opens the archive stored at path.
type OpenFunc func(path string) (Archive, error)

// Archive is an opened mail archive container.
type Archive interface {
	// Folders returns every folder of the archive in a stable order. The first
	// entry is the top-level folder.
	Folders() ([]Folder, error)
	Close() error
}

// Folder is one folder of an archive.
type Folder interface {
	// ID is unique within the archive.
	ID() uint64
	// Name is the hierarchical name as stored in the archive, with '\' between
	// levels.
	Name() string
	ItemCount() int
	Items() (ItemIterator, error)
}

// ItemIterator walks the items of a folder.
type ItemIterator interface {
	Next() bool
	Item() Item
	Err() error
}

// Item is one entry of a folder: a message, appointment, contact, ...
type Item interface {
	// ID is unique within the parent folder.
	ID() uint64
	MessageClass() string
	// Message materializes the item as a mail message.
	Message() (Message, error)
}

// Message is a materialized mail message.
type Message interface {
	// WriteTo serializes the message in EML form.
	WriteTo(w io.Writer) (int64, error)
}

// Corrupted is implemented by items whose record could not be decoded at
// all. Corruption returns an error wrapping ErrCorrupt, or nil for an intact
// item.
type Corrupted interface {
	Corruption() error
}

// Guard runs fn and turns a Go runtime panic, such as an index out of range
// raised while decoding malformed archive data, into ErrCorrupt. Other
// panics are propagated.
func Guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			runtimeErr, ok := r.(runtime.Error)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("%w: %v", ErrCorrupt, runtimeErr)
		}
	}()
	return fn()
}
