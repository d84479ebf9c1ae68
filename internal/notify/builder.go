package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hiroq/mail-relay/internal/parser"
)

// Builder converts parsed emails into webhook payloads. The spam threshold
// and envelope identity are injected configuration; Builder holds no
// per-request state and is safe for concurrent use.
type Builder struct {
	threshold float64
	username  string
	avatarURL string
	sizeCap   int64
}

// Options configures a Builder. Zero Username/AvatarURL/SizeCap fall back
// to the defaults.
type Options struct {
	// SpamThreshold is the score above which the notification is marked
	// high-alert.
	SpamThreshold float64
	Username      string
	AvatarURL     string
	SizeCap       int64
}

// NewBuilder creates a Builder with the given options.
func NewBuilder(opts Options) *Builder {
	if opts.Username == "" {
		opts.Username = DefaultUsername
	}
	if opts.AvatarURL == "" {
		opts.AvatarURL = DefaultAvatarURL
	}
	if opts.SizeCap <= 0 {
		opts.SizeCap = DefaultSizeCap
	}
	return &Builder{
		threshold: opts.SpamThreshold,
		username:  opts.Username,
		avatarURL: opts.AvatarURL,
		sizeCap:   opts.SizeCap,
	}
}

// Build produces the webhook payload describing the email: sender,
// recipient, subject and body fields, the spam severity annotation, and the
// attachment summary.
func (b *Builder) Build(email *parser.Email) Payload {
	fields := []EmbedField{
		{Name: LabelFrom, Value: email.From, Inline: true},
		{Name: LabelTo, Value: email.ToRaw, Inline: true},
		{Name: LabelSubject, Value: email.Subject, Inline: true},
		{Name: LabelBody, Value: email.Text, Inline: false},
	}

	color := ColorNeutral
	description := ""
	if email.SpamScore != nil {
		score := *email.SpamScore
		fields = append(fields, EmbedField{
			Name:   LabelSpamScore,
			Value:  strconv.FormatFloat(score, 'f', -1, 64),
			Inline: true,
		})
		if score > b.threshold {
			color = ColorHighAlert
			description = DescriptionSpamLikely
		} else {
			color = ColorLowAlert
			description = DescriptionSpamUnlikely
		}
	}

	if len(email.Attachments) > 0 {
		fields = append(fields, EmbedField{
			Name:   LabelAttachments,
			Value:  b.attachmentSummary(email.Attachments),
			Inline: false,
		})
	}

	return Payload{
		Username:  b.username,
		AvatarURL: b.avatarURL,
		Embeds: []Embed{{
			Title:       EmbedTitle,
			Description: description,
			Color:       color,
			Fields:      fields,
		}},
	}
}

// attachmentSummary lists every attachment, one per line. Attachments whose
// cumulative size exceeds the cap stay listed but carry a notice pointing
// the reader back to the mail client; once the budget is spent it stays
// spent for all later attachments.
func (b *Builder) attachmentSummary(attachments []parser.Attachment) string {
	var sb strings.Builder
	var total int64
	for _, att := range attachments {
		total += att.Size
		if total > b.sizeCap {
			fmt.Fprintf(&sb, "- %s (%s) %s\n", att.Name, att.ContentType, AttachmentTooLargeNotice)
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s)\n", att.Name, att.ContentType)
	}
	return sb.String()
}
