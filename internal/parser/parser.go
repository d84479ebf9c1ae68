// Package parser turns the multipart form produced by an inbound-parse
// provider back into a typed email value. Parsing is a tri-state operation:
// it yields an Email, a suppression (spam-marked subject), or an error.
package parser

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Defaults mirror the upstream relay's behavior.
const (
	// DefaultTextLimit is the body truncation limit in Unicode code points.
	DefaultTextLimit = 1000
	// DefaultPlaceholder is substituted when no body text is available.
	DefaultPlaceholder = "本文を取得できませんでした"
	// DefaultSpamMarker prefixes subjects of messages the upstream filter
	// already classified as spam.
	DefaultSpamMarker = "[SPAM]"
	// Ellipsis is appended to truncated body text.
	Ellipsis = "..."
)

// Form field names expected on the inbound submission.
const (
	FieldFrom           = "from"
	FieldTo             = "to"
	FieldSubject        = "subject"
	FieldText           = "text"
	FieldHTML           = "html"
	FieldSpamScore      = "spam_score"
	FieldAttachmentInfo = "attachment-info"
)

// addressPattern matches local-part@domain substrings inside a raw To
// header. The final domain label must be at least two letters.
var addressPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// FormParser validates and extracts typed fields and attachments from a
// multipart form submission.
type FormParser struct {
	textLimit   int
	placeholder string
	spamMarker  string
	stripper    *bluemonday.Policy
}

// Options configures a FormParser. Zero values fall back to the defaults.
type Options struct {
	TextLimit   int
	Placeholder string
	SpamMarker  string
}

// New creates a FormParser with the given options.
func New(opts Options) *FormParser {
	if opts.TextLimit <= 0 {
		opts.TextLimit = DefaultTextLimit
	}
	if opts.Placeholder == "" {
		opts.Placeholder = DefaultPlaceholder
	}
	if opts.SpamMarker == "" {
		opts.SpamMarker = DefaultSpamMarker
	}
	return &FormParser{
		textLimit:   opts.TextLimit,
		placeholder: opts.Placeholder,
		spamMarker:  opts.SpamMarker,
		stripper:    bluemonday.StrictPolicy(),
	}
}

// Parse extracts an Email from the form. A subject carrying the spam marker
// yields a suppressed result instead of an email; the caller must skip
// delivery entirely in that case.
func (p *FormParser) Parse(form *multipart.Form) (Result, error) {
	from, ok := textField(form, FieldFrom)
	if !ok {
		return Result{}, &MissingFieldError{Field: FieldFrom}
	}
	toRaw, ok := textField(form, FieldTo)
	if !ok {
		return Result{}, &MissingFieldError{Field: FieldTo}
	}
	subject, ok := textField(form, FieldSubject)
	if !ok {
		return Result{}, &MissingFieldError{Field: FieldSubject}
	}

	if strings.HasPrefix(subject, p.spamMarker) {
		return Result{Suppressed: true}, nil
	}

	text := p.bodyText(form)

	attachments, err := p.resolveAttachments(form)
	if err != nil {
		return Result{}, err
	}

	email := &Email{
		From:        from,
		ToRaw:       toRaw,
		To:          ExtractAddresses(toRaw),
		Subject:     subject,
		Text:        Truncate(text, p.textLimit),
		SpamScore:   spamScore(form),
		Attachments: attachments,
	}
	return Result{Email: email}, nil
}

// bodyText picks the body for the notification: the text field when present,
// otherwise the html field stripped down to plain text, otherwise the
// placeholder.
func (p *FormParser) bodyText(form *multipart.Form) string {
	if text, ok := textField(form, FieldText); ok {
		return text
	}
	if html, ok := textField(form, FieldHTML); ok {
		if stripped := strings.TrimSpace(p.stripper.Sanitize(html)); stripped != "" {
			return stripped
		}
	}
	return p.placeholder
}

// resolveAttachments reads the attachment-info manifest and matches each of
// its keys against a file field in the same form. Manifest order becomes
// attachment order. No manifest means no attachments.
func (p *FormParser) resolveAttachments(form *multipart.Form) ([]Attachment, error) {
	manifest, ok := textField(form, FieldAttachmentInfo)
	if !ok {
		return nil, nil
	}

	names, err := manifestKeys(manifest)
	if err != nil {
		return nil, &ManifestError{Err: err}
	}

	attachments := make([]Attachment, 0, len(names))
	for _, name := range names {
		headers := form.File[name]
		if len(headers) == 0 {
			return nil, &MissingFieldError{Field: name}
		}
		fh := headers[0]
		attachments = append(attachments, Attachment{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			header:      fh,
		})
	}
	return attachments, nil
}

// spamScore parses the optional spam_score field. Absent field yields nil;
// a present but unparsable value yields zero.
func spamScore(form *multipart.Form) *float64 {
	raw, ok := textField(form, FieldSpamScore)
	if !ok {
		return nil
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		score = 0
	}
	return &score
}

// textField returns the first value of a text field. A field submitted as a
// file does not count.
func textField(form *multipart.Form, name string) (string, bool) {
	values, ok := form.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// ExtractAddresses collects every address-shaped substring from a raw To
// header, in order of first appearance. Duplicates are kept. The extraction
// is pure: the same input always yields the same sequence.
func ExtractAddresses(toRaw string) []string {
	return addressPattern.FindAllString(toRaw, -1)
}

// Truncate caps s at limit Unicode code points, appending an ellipsis when
// anything was cut. Text at or under the limit is returned unchanged.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + Ellipsis
}

// manifestKeys returns the top-level object keys of the manifest JSON in
// their serialized order. encoding/json maps lose ordering, so the token
// stream is walked directly.
func manifestKeys(manifest string) ([]string, error) {
	dec := json.NewDecoder(strings.NewReader(manifest))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		// Skip the value; only the key names matter.
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}
