package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	charsets "github.com/emersion/go-message/charset"
	pst "github.com/mooijtech/go-pst/v6/pkg"
	"github.com/mooijtech/go-pst/v6/pkg/properties"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
)

// folderSeparator joins the names of nested folders, the way Outlook shows
// folder paths.
const folderSeparator = `\`

// propertyMessageClass is PidTagMessageClass.
const propertyMessageClass = 26

var registerCharsets sync.Once

// OpenPST opens a PST or OST file. It satisfies OpenFunc.
func OpenPST(path string) (Archive, error) {
	registerCharsets.Do(func() {
		pst.ExtendCharsets(func(name string, enc encoding.Encoding) {
			charsets.RegisterEncoding(name, enc)
		})
	})

	reader, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open PST file: %w", err)
	}

	file, err := pst.New(reader)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("parse PST file: %w", err)
	}

	return &pstArchive{reader: reader, file: file}, nil
}

type pstArchive struct {
	reader *os.File
	file   *pst.File
}

// Folders walks the folder tree depth-first below the unnamed root folder.
// Top-level folders keep their own name; nested folders are named by their
// full path.
func (a *pstArchive) Folders() ([]Folder, error) {
	root, err := a.file.GetRootFolder()
	if err != nil {
		return nil, fmt.Errorf("get root folder: %w", err)
	}

	var folders []Folder
	if err := collectFolders(&root, "", subFolders, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

func (a *pstArchive) Close() error {
	a.file.Cleanup()
	return a.reader.Close()
}

func subFolders(parent *pst.Folder) ([]pst.Folder, error) {
	return parent.GetSubFolders()
}

func collectFolders(parent *pst.Folder, prefix string, children func(*pst.Folder) ([]pst.Folder, error), out *[]Folder) error {
	if !parent.HasSubFolders {
		return nil
	}

	subs, err := children(parent)
	if err != nil {
		return fmt.Errorf("get sub-folders of %q: %w", parent.Name, err)
	}

	for i := range subs {
		sub := &subs[i]
		name := sub.Name
		if prefix != "" {
			name = prefix + folderSeparator + sub.Name
		}
		*out = append(*out, newPSTFolder(sub, name))
		if err := collectFolders(sub, name, children, out); err != nil {
			return err
		}
	}
	return nil
}

type pstFolder struct {
	folder *pst.Folder
	name   string

	rows func() (messageRows, error)
	load func(pst.Identifier) (*pst.Message, error)
}

func newPSTFolder(folder *pst.Folder, name string) *pstFolder {
	return &pstFolder{
		folder: folder,
		name:   name,
		rows:   func() (messageRows, error) { return openMessageTable(folder) },
		load:   folder.File.GetMessage,
	}
}

func (f *pstFolder) ID() uint64 {
	return uint64(f.folder.Identifier)
}

func (f *pstFolder) Name() string {
	return f.name
}

func (f *pstFolder) ItemCount() int {
	return int(f.folder.MessageCount)
}

// Items walks the message table of the folder. Each row is decoded on its
// own, so a damaged message record yields a corrupt item instead of ending
// the folder.
func (f *pstFolder) Items() (ItemIterator, error) {
	rows, err := f.rows()
	if eris.Is(err, pst.ErrMessagesNotFound) {
		return &pstItemIterator{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("get message table: %w", err)
	}
	return &pstItemIterator{rows: rows, load: f.load}, nil
}

// messageRows is the message table of a folder: one message identifier per
// row.
type messageRows interface {
	Len() int
	Identifier(row int) (pst.Identifier, error)
}

func openMessageTable(folder *pst.Folder) (messageRows, error) {
	if folder.MessageCount == 0 || folder.Identifier.GetType() == pst.IdentifierTypeSearchFolder {
		return nil, pst.ErrMessagesNotFound
	}
	table, err := folder.GetMessageTableContext()
	if err != nil {
		return nil, err
	}
	return &tableRows{table: table}, nil
}

type tableRows struct {
	table pst.TableContext
}

func (t *tableRows) Len() int {
	return len(t.table.Properties)
}

func (t *tableRows) Identifier(row int) (pst.Identifier, error) {
	cells := t.table.Properties[row]
	if len(cells) == 0 {
		return 0, fmt.Errorf("message table row %d is empty", row)
	}
	reader, err := t.table.GetPropertyReader(cells[0])
	if err != nil {
		return 0, err
	}
	id, err := reader.GetInteger32()
	if err != nil {
		return 0, err
	}
	return pst.Identifier(id), nil
}

type pstItemIterator struct {
	rows    messageRows
	load    func(pst.Identifier) (*pst.Message, error)
	index   int
	current Item
}

// Next always advances by one row. Rows that cannot be decoded are returned
// as corrupt items.
func (it *pstItemIterator) Next() bool {
	if it.rows == nil || it.index >= it.rows.Len() {
		it.current = nil
		return false
	}
	row := it.index
	it.index++

	id, err := Guard(func() (pst.Identifier, error) { return it.rows.Identifier(row) })
	if err != nil {
		it.current = &corruptItem{id: uint64(row), err: corruption(fmt.Sprintf("message table row %d", row), err)}
		return true
	}
	message, err := Guard(func() (*pst.Message, error) { return it.load(id) })
	if err != nil {
		it.current = &corruptItem{id: uint64(id), err: corruption(fmt.Sprintf("message %d", id), err)}
		return true
	}
	it.current = &pstItem{message: message}
	return true
}

func (it *pstItemIterator) Item() Item {
	return it.current
}

func (it *pstItemIterator) Err() error {
	return nil
}

// corruption wraps err in ErrCorrupt unless Guard already did.
func corruption(what string, err error) error {
	if errors.Is(err, ErrCorrupt) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrCorrupt, what, err)
}

// corruptItem stands in for a message record that could not be decoded.
type corruptItem struct {
	id  uint64
	err error
}

func (c *corruptItem) ID() uint64                { return c.id }
func (c *corruptItem) MessageClass() string      { return "" }
func (c *corruptItem) Message() (Message, error) { return nil, c.err }
func (c *corruptItem) Corruption() error         { return c.err }

type pstItem struct {
	message *pst.Message
}

func (i *pstItem) ID() uint64 {
	return uint64(i.message.Identifier)
}

// MessageClass reads PidTagMessageClass. When the property cannot be read the
// class is inferred from the property set go-pst picked for the item.
func (i *pstItem) MessageClass() string {
	if i.message.PropertyContext != nil {
		reader, err := i.message.PropertyContext.GetPropertyReader(propertyMessageClass, i.message.LocalDescriptors)
		if err == nil {
			if class, err := reader.GetString(); err == nil && class != "" {
				return class
			}
		}
	}

	switch i.message.Properties.(type) {
	case *properties.Message:
		return MessageClassNote
	case *properties.Appointment:
		return "IPM.Appointment"
	case *properties.Contact:
		return "IPM.Contact"
	case *properties.Task:
		return "IPM.Task"
	default:
		return ""
	}
}

func (i *pstItem) Message() (Message, error) {
	props, ok := i.message.Properties.(*properties.Message)
	if !ok {
		return nil, fmt.Errorf("%w: item %d has %T properties", ErrCorrupt, i.ID(), i.message.Properties)
	}
	if err := i.message.PropertyContext.Populate(props, i.message.LocalDescriptors); err != nil {
		return nil, fmt.Errorf("%w: populate item %d: %v", ErrCorrupt, i.ID(), err)
	}

	fields := fieldsFromProperties(props)

	attachments, err := readAttachments(i.message)
	if err != nil {
		return nil, fmt.Errorf("%w: attachments of item %d: %v", ErrCorrupt, i.ID(), err)
	}
	fields.Attachments = attachments

	var buf bytes.Buffer
	if err := fields.encode(&buf); err != nil {
		return nil, fmt.Errorf("encode item %d: %w", i.ID(), err)
	}
	return &emlMessage{data: buf.Bytes()}, nil
}

func fieldsFromProperties(props *properties.Message) emlFields {
	return emlFields{
		TransportHeaders: props.GetTransportMessageHeaders(),
		MessageID:        props.GetInternetMessageId(),
		Subject:          props.GetSubject(),
		SenderName:       props.GetSenderName(),
		SenderAddress:    props.GetSenderEmailAddress(),
		DisplayTo:        props.GetDisplayTo(),
		DisplayCc:        props.GetDisplayCc(),
		InReplyTo:        props.GetInReplyToId(),
		References:       props.GetInternetReferences(),
		Date:             messageDate(props),
		Body:             props.GetBody(),
		BodyHTML:         props.GetBodyHtml(),
	}
}

// messageDate prefers the submit time and falls back to the delivery time.
// Both are Unix seconds; zero means unknown.
func messageDate(props *properties.Message) time.Time {
	if ts := props.GetClientSubmitTime(); ts > 0 {
		return time.Unix(ts, 0).UTC()
	}
	if ts := props.GetMessageDeliveryTime(); ts > 0 {
		return time.Unix(ts, 0).UTC()
	}
	return time.Time{}
}

func readAttachments(message *pst.Message) ([]emlAttachment, error) {
	iter, err := message.GetAttachmentIterator()
	if eris.Is(err, pst.ErrAttachmentsNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var attachments []emlAttachment
	for iter.Next() {
		attachment := iter.Value()

		name := attachment.GetAttachLongFilename()
		if name == "" {
			name = attachment.GetAttachFilename()
		}

		var data bytes.Buffer
		if _, err := attachment.WriteTo(&data); err != nil {
			return nil, fmt.Errorf("read attachment %q: %w", name, err)
		}

		attachments = append(attachments, emlAttachment{
			Filename:    name,
			ContentType: attachment.GetAttachMimeTag(),
			Data:        data.Bytes(),
		})
	}

	return attachments, iter.Err()
}
