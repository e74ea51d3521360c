package model

import "time"

// Message represents a single extracted EML file on its way to another store.
type Message struct {
	// ID is the Message-Id header, or "<folderId>/<itemId>" without one.
	ID       string
	Hash     string
	Path     string
	FolderID uint64
	ItemID   uint64
	// FolderName is the sanitized name from the folder map.
	FolderName string
	// Mailbox is the upload target, set when the message is routed.
	Mailbox    string
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}

// Envelope wraps a message alongside an optional error encountered while reading it.
type Envelope struct {
	Message Message
	Err     error
}
