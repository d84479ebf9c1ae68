// Package notify builds the chat notification for a parsed email: the
// embed describing the message and the multipart delivery body posted to
// the webhook endpoint.
package notify

// EmbedField is one labeled field inside an embed. Inline fields render
// compactly next to each other.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Embed is one chat notification: a title, a severity color, an optional
// description and an ordered field list.
type Embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []EmbedField `json:"fields"`
}

// Payload is the webhook envelope: a fixed sender identity plus the embeds.
type Payload struct {
	Username  string  `json:"username"`
	AvatarURL string  `json:"avatar_url"`
	Embeds    []Embed `json:"embeds"`
}

// Severity colors for the embed.
const (
	ColorHighAlert = 0xFF0000
	ColorLowAlert  = 0x0000FF
	ColorNeutral   = 0x000000
)

// Notification text, matching the relay's original Japanese UI strings.
const (
	EmbedTitle = "メールを受信しました"

	LabelFrom        = "送信者"
	LabelTo          = "宛先"
	LabelSubject     = "件名"
	LabelBody        = "本文"
	LabelSpamScore   = "スパムスコア"
	LabelAttachments = "添付ファイル"

	DescriptionSpamLikely   = "スパムメールの可能性が高いです。注意してください。"
	DescriptionSpamUnlikely = "スパムメールの可能性は低いです。"

	AttachmentTooLargeNotice = "サイズが大きすぎるのでメーラーからアクセスしてください"

	DefaultUsername  = "メール転送"
	DefaultAvatarURL = "https://github.com/jizi-isct.png"
)

// DefaultSizeCap is the cumulative attachment budget for the delivery body,
// in bytes.
const DefaultSizeCap = 10 * 1024 * 1024
