package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/hiroq/mail-relay/internal/parser"
)

// parsedAttachments runs a real multipart form through the parser so the
// attachments have live backing files.
func parsedAttachments(t *testing.T, files map[string]string) []parser.Attachment {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range []string{"from", "to", "subject"} {
		if err := w.WriteField(field, "x@example.com"); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}

	manifest := "{"
	i := 0
	for field, content := range files {
		if i > 0 {
			manifest += ","
		}
		manifest += fmt.Sprintf("%q:{}", field)
		i++

		part, err := w.CreateFormFile(field, field+".bin")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("writing file: %v", err)
		}
	}
	manifest += "}"
	if err := w.WriteField("attachment-info", manifest); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("ReadForm: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })

	res, err := parser.New(parser.Options{}).Parse(form)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return res.Email.Attachments
}

// decodeBody splits a delivery body back into its parts.
func decodeBody(t *testing.T, body *Body) (payload Payload, parts map[string][]byte) {
	t.Helper()

	_, params, err := mime.ParseMediaType(body.ContentType)
	if err != nil {
		t.Fatalf("parsing content type: %v", err)
	}
	r := multipart.NewReader(bytes.NewReader(body.Bytes), params["boundary"])

	parts = make(map[string][]byte)
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart: %v", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("reading part: %v", err)
		}
		if part.FormName() == "payload_json" {
			if err := json.Unmarshal(data, &payload); err != nil {
				t.Fatalf("unmarshaling payload_json: %v", err)
			}
			continue
		}
		parts[part.FormName()] = data
	}
	return payload, parts
}

func TestEncodeBodyRoundTrip(t *testing.T) {
	attachments := parsedAttachments(t, map[string]string{"attachment1": "hello bytes"})

	b := NewBuilder(Options{SpamThreshold: 5})
	email := sampleEmail()
	email.Attachments = attachments

	body, err := b.EncodeBody(b.Build(email), attachments)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	if body.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", body.Dropped)
	}

	payload, parts := decodeBody(t, body)
	if payload.Username != DefaultUsername {
		t.Errorf("payload username = %q", payload.Username)
	}
	if len(payload.Embeds) != 1 || payload.Embeds[0].Title != EmbedTitle {
		t.Errorf("embed missing from payload_json: %+v", payload.Embeds)
	}
	if string(parts["files[0]"]) != "hello bytes" {
		t.Errorf("files[0] = %q", parts["files[0]"])
	}
}

func TestEncodeBodySizeCap(t *testing.T) {
	const mib = 1024 * 1024
	attachments := parsedAttachments(t, map[string]string{"attachment1": "first"})
	// Two phantom oversized attachments after the real one. Their bytes
	// must never be requested, so no backing file is needed.
	attachments[0].Size = 6 * mib
	attachments = append(attachments,
		parser.Attachment{Name: "big.zip", ContentType: "application/zip", Size: 6 * mib},
		parser.Attachment{Name: "small.txt", ContentType: "text/plain", Size: 1 * mib},
	)

	b := NewBuilder(Options{})
	body, err := b.EncodeBody(Payload{Username: DefaultUsername}, attachments)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	if body.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", body.Dropped)
	}

	_, parts := decodeBody(t, body)
	if _, ok := parts["files[0]"]; !ok {
		t.Error("files[0] missing from body")
	}
	if _, ok := parts["files[1]"]; ok {
		t.Error("files[1] should be excluded by the size cap")
	}
	if _, ok := parts["files[2]"]; ok {
		t.Error("files[2] should be excluded once the budget is spent")
	}
}

func TestBodyReaderIsReusable(t *testing.T) {
	b := NewBuilder(Options{})
	body, err := b.EncodeBody(Payload{Username: DefaultUsername}, nil)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}

	first, _ := io.ReadAll(body.Reader())
	second, _ := io.ReadAll(body.Reader())
	if !bytes.Equal(first, second) {
		t.Error("successive readers returned different bytes")
	}
}
