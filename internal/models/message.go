package models

import (
	"encoding/json"
	"time"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// MessageType represents message types
type MessageType int

// Message type constants
const (
	MessageTypeDefault                                 MessageType = 0
	MessageTypeRecipientAdd                            MessageType = 1
	MessageTypeRecipientRemove                         MessageType = 2
	MessageTypeCall                                    MessageType = 3
	MessageTypeChannelNameChange                       MessageType = 4
	MessageTypeChannelIconChange                       MessageType = 5
	MessageTypeChannelPinnedMessage                    MessageType = 6
	MessageTypeGuildMemberJoin                         MessageType = 7
	MessageTypeUserPremiumGuildSubscription            MessageType = 8
	MessageTypeUserPremiumGuildSubscriptionTier1       MessageType = 9
	MessageTypeUserPremiumGuildSubscriptionTier2       MessageType = 10
	MessageTypeUserPremiumGuildSubscriptionTier3       MessageType = 11
	MessageTypeChannelFollowAdd                        MessageType = 12
	MessageTypeGuildDiscoveryDisqualified              MessageType = 14
	MessageTypeGuildDiscoveryRequalified               MessageType = 15
	MessageTypeGuildDiscoveryGracePeriodInitialWarning MessageType = 16
	MessageTypeGuildDiscoveryGracePeriodFinalWarning   MessageType = 17
	MessageTypeThreadCreated                           MessageType = 18
	MessageTypeReply                                   MessageType = 19
	MessageTypeChatInputCommand                        MessageType = 20
	MessageTypeThreadStarterMessage                    MessageType = 21
	MessageTypeGuildInviteReminder                     MessageType = 22
	MessageTypeContextMenuCommand                      MessageType = 23
	MessageTypeAutoModerationAction                    MessageType = 24
)

// Message is a message as delivered by MESSAGE_CREATE. Messages are not
// cached; the author and mentioned users are, and the snapshots here are the
// ones captured after those upserts.
type Message struct {
	ID              snowflake.Snowflake
	ChannelID       snowflake.Snowflake
	GuildID         snowflake.Snowflake
	Author          User
	Content         string
	Timestamp       time.Time
	EditedTimestamp time.Time
	TTS             bool
	MentionEveryone bool
	Mentions        []User
	MentionRoles    []snowflake.Snowflake
	Attachments     []Attachment
	Embeds          []json.RawMessage
	Pinned          bool
	Type            MessageType
	WebhookID       snowflake.Snowflake
	ReferencedID    snowflake.Snowflake
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID          snowflake.Snowflake `json:"id"`
	Filename    string              `json:"filename"`
	Size        int                 `json:"size"`
	URL         string              `json:"url"`
	ProxyURL    string              `json:"proxy_url"`
	Width       int                 `json:"width,omitempty"`
	Height      int                 `json:"height,omitempty"`
	ContentType string              `json:"content_type,omitempty"`
}

// MessageReference points at the message a reply or crosspost refers to.
type MessageReference struct {
	MessageID snowflake.Snowflake `json:"message_id"`
	ChannelID snowflake.Snowflake `json:"channel_id"`
	GuildID   snowflake.Snowflake `json:"guild_id"`
}

// MessagePayload is the MESSAGE_CREATE payload.
type MessagePayload struct {
	ID               snowflake.Snowflake   `json:"id"`
	ChannelID        snowflake.Snowflake   `json:"channel_id"`
	GuildID          snowflake.Snowflake   `json:"guild_id"`
	Author           UserPayload           `json:"author"`
	Member           *MemberPayload        `json:"member"`
	Content          string                `json:"content"`
	Timestamp        time.Time             `json:"timestamp"`
	EditedTimestamp  *time.Time            `json:"edited_timestamp"`
	TTS              bool                  `json:"tts"`
	MentionEveryone  bool                  `json:"mention_everyone"`
	Mentions         []UserPayload         `json:"mentions"`
	MentionRoles     []snowflake.Snowflake `json:"mention_roles"`
	Attachments      []Attachment          `json:"attachments"`
	Embeds           []json.RawMessage     `json:"embeds"`
	Pinned           bool                  `json:"pinned"`
	Type             MessageType           `json:"type"`
	WebhookID        snowflake.Snowflake   `json:"webhook_id"`
	MessageReference *MessageReference     `json:"message_reference"`
}

// MessageUpdate is a MESSAGE_UPDATE payload. Only id and channel id are
// guaranteed; every other field is present only when it changed.
type MessageUpdate struct {
	ID              snowflake.Snowflake          `json:"id"`
	ChannelID       snowflake.Snowflake          `json:"channel_id"`
	GuildID         snowflake.Snowflake          `json:"guild_id"`
	Author          *UserPayload                 `json:"author"`
	Content         Field[string]                `json:"content"`
	EditedTimestamp Field[time.Time]             `json:"edited_timestamp"`
	MentionEveryone Field[bool]                  `json:"mention_everyone"`
	Mentions        Field[[]UserPayload]         `json:"mentions"`
	MentionRoles    Field[[]snowflake.Snowflake] `json:"mention_roles"`
	Attachments     Field[[]Attachment]          `json:"attachments"`
	Embeds          Field[[]json.RawMessage]     `json:"embeds"`
	Pinned          Field[bool]                  `json:"pinned"`
}

// ReactionEmoji identifies the emoji of a reaction. Unicode emoji have no id.
type ReactionEmoji struct {
	ID       snowflake.Snowflake `json:"id"`
	Name     string              `json:"name"`
	Animated bool                `json:"animated,omitempty"`
}

// String returns the form used in reaction routes: the unicode character or
// name:id for custom emoji.
func (e ReactionEmoji) String() string {
	if e.ID.IsZero() {
		return e.Name
	}
	return e.Name + ":" + e.ID.String()
}
