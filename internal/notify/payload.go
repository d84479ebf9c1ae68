package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"

	"github.com/hiroq/mail-relay/internal/parser"
)

// Body is a fully encoded delivery body. It is built once per request and
// reused for every recipient.
type Body struct {
	// Bytes is the multipart/form-data payload.
	Bytes []byte
	// ContentType carries the multipart boundary.
	ContentType string
	// Dropped counts attachments excluded from the body by the size cap.
	Dropped int
}

// Reader returns a fresh reader over the body for one delivery attempt.
func (b *Body) Reader() io.Reader {
	return bytes.NewReader(b.Bytes)
}

// EncodeBody re-packages the payload as the multipart body the webhook
// endpoint expects: a payload_json field followed by one files[i] part per
// attachment. Attachments are budgeted in order against the size cap;
// once the running total exceeds it, that attachment and everything after
// it is dropped from the body. Attachment bytes are only read for
// attachments that made the cut.
func (b *Builder) EncodeBody(payload Payload, attachments []parser.Attachment) (*Body, error) {
	serialized, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("payload_json", string(serialized)); err != nil {
		return nil, fmt.Errorf("writing payload_json: %w", err)
	}

	dropped := 0
	var total int64
	for i, att := range attachments {
		total += att.Size
		if total > b.sizeCap {
			dropped++
			continue
		}
		if err := writeAttachment(w, i, &att); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	return &Body{
		Bytes:       buf.Bytes(),
		ContentType: w.FormDataContentType(),
		Dropped:     dropped,
	}, nil
}

// writeAttachment streams one attachment into the body as files[i],
// keeping its original filename and content type.
func writeAttachment(w *multipart.Writer, index int, att *parser.Attachment) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files[%d]"; filename="%s"`, index, escapeQuotes(att.Name)))
	if att.ContentType != "" {
		header.Set("Content-Type", att.ContentType)
	}

	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("creating part for %q: %w", att.Name, err)
	}

	f, err := att.Open()
	if err != nil {
		return fmt.Errorf("opening attachment %q: %w", att.Name, err)
	}
	defer f.Close()

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copying attachment %q: %w", att.Name, err)
	}
	return nil
}

// escapeQuotes mirrors mime/multipart's quoting of filenames.
func escapeQuotes(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || s[i] == '"' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
