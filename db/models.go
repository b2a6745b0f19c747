package db

import (
	"time"

	"gorm.io/datatypes"
)

// Channel is one managed LINE official account (tenant). LineChannelID is the
// webhook routing key and must be unique across the system. AccessToken is
// stored AES-GCM encrypted.
type Channel struct {
	ID                uint   `gorm:"primaryKey"`
	LineChannelID     string `gorm:"uniqueIndex;not null"`
	ChannelSecret     string `gorm:"not null"`
	AccessToken       string `gorm:"not null"`
	Name              string
	DefaultRichMenuID *uint
	FollowTagIDs      datatypes.JSONType[[]uint]
	WebhookForwardURL string
	PasswordHash      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LineUser is a platform end-user known to one channel.
type LineUser struct {
	ID                uint   `gorm:"primaryKey"`
	ChannelID         uint   `gorm:"uniqueIndex:idx_channel_line_user;not null"`
	LineUserID        string `gorm:"uniqueIndex:idx_channel_line_user;not null"`
	DisplayName       string
	PictureURL        string
	StatusMessage     string
	InternalName      string
	IsBlocked         bool `gorm:"not null;default:false"`
	CurrentRichMenuID *uint
	LastMessageAt     *time.Time
	LastMessageText   string
	UnreadCount       int `gorm:"not null;default:0"`
	FollowedAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Tag is a channel-scoped label. Priority is a total order key: when several
// tags on one user carry a linked rich menu, the highest priority wins.
type Tag struct {
	ID               uint   `gorm:"primaryKey"`
	ChannelID        uint   `gorm:"uniqueIndex:idx_channel_tag_name;not null"`
	Name             string `gorm:"uniqueIndex:idx_channel_tag_name;not null"`
	Color            string
	Priority         int `gorm:"not null;default:0"`
	LinkedRichMenuID *uint
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type LineUserTag struct {
	ID         uint `gorm:"primaryKey"`
	LineUserID uint `gorm:"uniqueIndex:idx_user_tag;not null"`
	TagID      uint `gorm:"uniqueIndex:idx_user_tag;not null"`
	CreatedAt  time.Time
}

// RichMenu is a channel-scoped menu definition. PlatformMenuID stays empty
// until the menu has been registered with the messaging gateway; only
// registered menus may be linked to users. IsActive means the menu is
// currently applied because now is inside its display window.
type RichMenu struct {
	ID                 uint `gorm:"primaryKey"`
	ChannelID          uint `gorm:"index;not null"`
	Name               string
	ChatBarText        string
	ImageURL           string
	Width              int
	Height             int
	Areas              datatypes.JSONType[[]TapArea]
	IsDefault          bool `gorm:"not null;default:false"`
	IsActive           bool `gorm:"not null;default:false"`
	DisplayPeriodStart *time.Time
	DisplayPeriodEnd   *time.Time
	PlatformMenuID     string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type TapArea struct {
	X      int       `json:"x"`
	Y      int       `json:"y"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Action TapAction `json:"action"`
}

type TapAction struct {
	Type string `json:"type"` // "message" or "uri"
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// Registered reports whether the menu exists on the platform side.
func (m *RichMenu) Registered() bool {
	return m.PlatformMenuID != ""
}

// WindowOpen reports whether now falls inside the menu's display window.
// Menus without a window never open.
func (m *RichMenu) WindowOpen(now time.Time) bool {
	if m.DisplayPeriodStart == nil || m.DisplayPeriodEnd == nil {
		return false
	}
	return !now.Before(*m.DisplayPeriodStart) && !now.After(*m.DisplayPeriodEnd)
}

// Broadcast message statuses.
const (
	MessageStatusDraft     = "draft"
	MessageStatusScheduled = "scheduled"
	MessageStatusSending   = "sending"
	MessageStatusSent      = "sent"
	MessageStatusFailed    = "failed"
)

// Message is one outbound broadcast campaign.
type Message struct {
	ID             uint `gorm:"primaryKey"`
	ChannelID      uint `gorm:"index;not null"`
	Title          string
	Contents       datatypes.JSONType[[]ContentBlock]
	Status         string `gorm:"not null;default:'draft'"`
	TagIDs         datatypes.JSONType[[]uint]
	ScheduledAt    *time.Time
	RecipientCount int `gorm:"not null;default:0"`
	SuccessCount   int `gorm:"not null;default:0"`
	FailureCount   int `gorm:"not null;default:0"`
	SentAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Content block kinds.
const (
	BlockTypeText  = "text"
	BlockTypeImage = "image"
	BlockTypeVideo = "video"
)

// ContentBlock is one stored block of a broadcast message: a tagged union
// discriminated by Type. Consumers must switch exhaustively and reject
// unknown types.
type ContentBlock struct {
	Type        string        `json:"type"`
	Text        string        `json:"text,omitempty"`
	OriginalURL string        `json:"original_url,omitempty"`
	PreviewURL  string        `json:"preview_url,omitempty"`
	LinkURL     string        `json:"link_url,omitempty"` // legacy tappable image link
	Action      *CustomAction `json:"action,omitempty"`
}

// CustomAction is the bundle executed when a user taps an interactive image
// block: applied via postback, not a reply token.
type CustomAction struct {
	TagIDs      []uint `json:"tag_ids,omitempty"`
	ScenarioID  *uint  `json:"scenario_id,omitempty"`
	ReplyText   string `json:"reply_text,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Step scenario trigger types.
const (
	TriggerFollow      = "follow"
	TriggerTagAssigned = "tag_assigned"
)

// StepScenario is a drip-campaign definition.
type StepScenario struct {
	ID           uint `gorm:"primaryKey"`
	ChannelID    uint `gorm:"index;not null"`
	Name         string
	TriggerType  string `gorm:"not null"`
	TriggerTagID *uint
	IsActive     bool `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepMessage is one step within a scenario. StepOrder is 1-based and unique
// per scenario. DelayMinutes counts from the trigger (or the previous step's
// fire time); SendHour/SendMinute snap the send to a wall-clock time.
type StepMessage struct {
	ID           uint `gorm:"primaryKey"`
	ScenarioID   uint `gorm:"uniqueIndex:idx_scenario_step;not null"`
	StepOrder    int  `gorm:"uniqueIndex:idx_scenario_step;not null"`
	DelayMinutes int  `gorm:"not null;default:0"`
	SendHour     *int
	SendMinute   *int
	Content      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Step execution statuses.
const (
	ExecutionStatusActive    = "active"
	ExecutionStatusCompleted = "completed"
)

// StepExecution tracks one user's progress through one scenario. At most one
// active execution may exist per (scenario, user).
type StepExecution struct {
	ID          uint `gorm:"primaryKey"`
	ScenarioID  uint `gorm:"index:idx_exec_scenario_user;not null"`
	LineUserID  uint `gorm:"index:idx_exec_scenario_user;not null"`
	CurrentStep int  `gorm:"not null;default:1"`
	NextSendAt  time.Time `gorm:"index"`
	Status      string    `gorm:"not null;default:'active'"`
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chat message directions.
const (
	ChatDirectionIn  = "in"
	ChatDirectionOut = "out"
)

type ChatMessage struct {
	ID          uint   `gorm:"primaryKey"`
	LineUserID  uint   `gorm:"index;not null"`
	Direction   string `gorm:"not null"`
	MessageType string
	Content     string
	SentAt      time.Time
	CreatedAt   time.Time
}

// ActivityLog is an append-only audit record of operator actions.
type ActivityLog struct {
	ID        uint `gorm:"primaryKey"`
	ChannelID uint `gorm:"index;not null"`
	Actor     string
	Action    string
	Detail    string
	CreatedAt time.Time
}
