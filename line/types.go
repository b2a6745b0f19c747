package line

// Webhook payload shapes, as delivered by the platform.

type WebhookRequest struct {
	Destination string         `json:"destination"`
	Events      []WebhookEvent `json:"events"`
}

type WebhookEvent struct {
	Type           string        `json:"type"`
	WebhookEventID string        `json:"webhookEventId"`
	Timestamp      int64         `json:"timestamp"`
	ReplyToken     string        `json:"replyToken,omitempty"`
	Source         EventSource   `json:"source"`
	Message        *EventMessage `json:"message,omitempty"`
	Postback       *Postback     `json:"postback,omitempty"`
}

type EventSource struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

type Postback struct {
	Data string `json:"data"`
}

// Profile is the platform's view of an end user.
type Profile struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	PictureURL    string `json:"pictureUrl"`
	StatusMessage string `json:"statusMessage"`
}

// Outbound message shapes. Message is a marker for the heterogeneous wire
// types below; each marshals to its platform JSON directly.
type Message any

type TextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewTextMessage(text string) TextMessage {
	return TextMessage{Type: "text", Text: text}
}

type ImageMessage struct {
	Type               string `json:"type"`
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

func NewImageMessage(originalURL, previewURL string) ImageMessage {
	if previewURL == "" {
		previewURL = originalURL
	}
	return ImageMessage{Type: "image", OriginalContentURL: originalURL, PreviewImageURL: previewURL}
}

type VideoMessage struct {
	Type               string `json:"type"`
	OriginalContentURL string `json:"originalContentUrl"`
	PreviewImageURL    string `json:"previewImageUrl"`
}

func NewVideoMessage(originalURL, previewURL string) VideoMessage {
	return VideoMessage{Type: "video", OriginalContentURL: originalURL, PreviewImageURL: previewURL}
}

// TemplateMessage wraps a buttons template; used for image blocks that carry
// a tap-through link.
type TemplateMessage struct {
	Type     string          `json:"type"`
	AltText  string          `json:"altText"`
	Template ButtonsTemplate `json:"template"`
}

type ButtonsTemplate struct {
	Type              string           `json:"type"`
	ThumbnailImageURL string           `json:"thumbnailImageUrl,omitempty"`
	Text              string           `json:"text"`
	Actions           []TemplateAction `json:"actions"`
}

type TemplateAction struct {
	Type  string `json:"type"` // "uri" or "postback"
	Label string `json:"label"`
	URI   string `json:"uri,omitempty"`
	Data  string `json:"data,omitempty"`
}

// RichMenuDefinition is the registration payload for a rich menu.
type RichMenuDefinition struct {
	Size        RichMenuSize   `json:"size"`
	Selected    bool           `json:"selected"`
	Name        string         `json:"name"`
	ChatBarText string         `json:"chatBarText"`
	Areas       []RichMenuArea `json:"areas"`
}

type RichMenuSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type RichMenuArea struct {
	Bounds RichMenuBounds `json:"bounds"`
	Action RichMenuAction `json:"action"`
}

type RichMenuBounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type RichMenuAction struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}
