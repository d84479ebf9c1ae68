package parser

import (
	"fmt"
	"mime/multipart"
)

// Email is the parsed form of one inbound submission. Values live only for
// the duration of building and dispatching the notification.
type Email struct {
	// From is the raw From header value. It is not validated as RFC 5322.
	From string
	// ToRaw is the raw To header value, display names and all.
	ToRaw string
	// To holds the addresses extracted from ToRaw, in order of appearance.
	// May be empty when nothing address-shaped is present.
	To []string
	// Subject is the decoded subject line.
	Subject string
	// Text is the body text, already truncated to the configured limit.
	Text string
	// SpamScore is nil when the spam_score field was absent from the form.
	// A present but unparsable value is reported as 0.
	SpamScore *float64
	// Attachments are listed in attachment-info manifest order.
	Attachments []Attachment
}

// Attachment describes one file entry from the form. Bytes are not read at
// parse time; Open fetches them when the delivery body is encoded.
type Attachment struct {
	Name        string
	ContentType string
	Size        int64

	header *multipart.FileHeader
}

// Open returns a reader over the attachment bytes.
func (a *Attachment) Open() (multipart.File, error) {
	if a.header == nil {
		return nil, fmt.Errorf("attachment %q has no backing file", a.Name)
	}
	return a.header.Open()
}

// Result is the tri-state outcome of parsing a submission: a parsed email,
// or suppression (spam marker matched, nothing to deliver). Errors are
// reported separately.
type Result struct {
	Email      *Email
	Suppressed bool
}

// MissingFieldError reports a required field that was absent or submitted
// with the wrong shape (for example a file where a text field was expected).
type MissingFieldError struct {
	Field string
}

// Error implements the error interface
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing field: %s", e.Field)
}

// ManifestError reports a malformed attachment-info manifest.
type ManifestError struct {
	Err error
}

// Error implements the error interface
func (e *ManifestError) Error() string {
	return fmt.Sprintf("malformed attachment-info: %v", e.Err)
}

// Unwrap returns the underlying JSON error.
func (e *ManifestError) Unwrap() error {
	return e.Err
}
