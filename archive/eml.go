package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// emlFields is everything needed to assemble one EML file.
type emlFields struct {
	// TransportHeaders is the original Internet header block, when the archive
	// kept it. It takes precedence over the individual fields below.
	TransportHeaders string

	MessageID     string
	Subject       string
	SenderName    string
	SenderAddress string
	DisplayTo     string
	DisplayCc     string
	InReplyTo     string
	References    string
	Date          time.Time

	Body     string
	BodyHTML string

	Attachments []emlAttachment
}

type emlAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type emlMessage struct {
	data []byte
}

func (m *emlMessage) WriteTo(w io.Writer) (int64, error) {
	return bytes.NewReader(m.data).WriteTo(w)
}

// encode writes the message as multipart/mixed: one inline part per body
// flavour followed by the attachments.
func (f emlFields) encode(w io.Writer) error {
	header := f.header()

	mw, err := mail.CreateWriter(w, header)
	if err != nil {
		return fmt.Errorf("create mail writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("create inline writer: %w", err)
	}
	if f.Body != "" || f.BodyHTML == "" {
		if err := writeInlinePart(iw, "text/plain", f.Body); err != nil {
			return err
		}
	}
	if f.BodyHTML != "" {
		if err := writeInlinePart(iw, "text/html", f.BodyHTML); err != nil {
			return err
		}
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("close inline writer: %w", err)
	}

	for i, attachment := range f.Attachments {
		if err := writeAttachment(mw, attachment); err != nil {
			return fmt.Errorf("attachment %d: %w", i, err)
		}
	}

	return mw.Close()
}

func (f emlFields) header() mail.Header {
	var h mail.Header
	if f.TransportHeaders != "" {
		if parsed, err := parseHeaderBlock(f.TransportHeaders); err == nil {
			h = parsed
		}
	}

	if h.Len() == 0 {
		if f.MessageID != "" {
			h.SetMessageID(strings.Trim(strings.TrimSpace(f.MessageID), "<>"))
		}
		if !f.Date.IsZero() {
			h.SetDate(f.Date)
		}
		if f.SenderAddress != "" {
			h.SetAddressList("From", []*mail.Address{{Name: f.SenderName, Address: f.SenderAddress}})
		} else if f.SenderName != "" {
			h.SetText("From", f.SenderName)
		}
		if f.DisplayTo != "" {
			h.SetText("To", f.DisplayTo)
		}
		if f.DisplayCc != "" {
			h.SetText("Cc", f.DisplayCc)
		}
		h.SetSubject(f.Subject)
		if f.InReplyTo != "" {
			h.Set("In-Reply-To", f.InReplyTo)
		}
		if f.References != "" {
			h.Set("References", f.References)
		}
	}

	// The body is re-encoded, so the original content headers no longer apply.
	h.Del("Content-Type")
	h.Del("Content-Transfer-Encoding")
	if !h.Has("Mime-Version") {
		h.Set("Mime-Version", "1.0")
	}
	return h
}

// parseHeaderBlock parses an RFC 5322 header block that may lack its
// terminating empty line.
func parseHeaderBlock(raw string) (mail.Header, error) {
	raw = strings.TrimRight(raw, "\r\n") + "\r\n\r\n"
	th, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		return mail.Header{}, err
	}
	return mail.Header{Header: message.Header{Header: th}}, nil
}

func writeInlinePart(iw *mail.InlineWriter, contentType, body string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	pw, err := iw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(pw, body); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return pw.Close()
}

func writeAttachment(mw *mail.Writer, attachment emlAttachment) error {
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var h mail.AttachmentHeader
	h.SetContentType(contentType, nil)
	h.Set("Content-Transfer-Encoding", "base64")
	if attachment.Filename != "" {
		h.SetFilename(attachment.Filename)
	}

	aw, err := mw.CreateAttachment(h)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	if _, err := aw.Write(attachment.Data); err != nil {
		_ = aw.Close()
		return fmt.Errorf("write attachment: %w", err)
	}
	return aw.Close()
}
