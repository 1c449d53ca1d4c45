package export

import "time"

// Conversation type tokens derived from the Skype conversation id prefix.
const (
	ConversationTypeOneToOne = "1:1"
	ConversationTypeGroup    = "group"
	ConversationTypeUnknown  = "unknown"
)

// TransformedData is the normalized in-memory structure handed to the
// loader. Conversations are keyed by conversation id.
type TransformedData struct {
	User          UserInfo                 `json:"user"`
	Users         map[string]*User         `json:"users"`
	Conversations map[string]*Conversation `json:"conversations"`
	Metadata      TransformMetadata        `json:"metadata"`
}

// UserInfo identifies the exporting user.
type UserInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// TransformMetadata summarizes a transform phase run.
type TransformMetadata struct {
	TransformedAt     time.Time `json:"transformed_at"`
	ConversationCount int       `json:"conversation_count"`
	MessageCount      int       `json:"message_count"`
}

// User is one canonical participant identity across all conversations,
// keyed by the Skype MRI.
type User struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	IsSelf      bool              `json:"is_self"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Conversation is a normalized thread. An empty display name is preserved
// verbatim.
type Conversation struct {
	ID            string               `json:"id"`
	DisplayName   string               `json:"display_name"`
	Type          string               `json:"type"`
	Participants  []Participant        `json:"participants"`
	CreatedAt     time.Time            `json:"created_at"`
	LastMessageAt time.Time            `json:"last_message_at"`
	Messages      []Message            `json:"messages"`
	Metadata      ConversationMetadata `json:"metadata"`
}

// ConversationMetadata carries per-conversation aggregates.
type ConversationMetadata struct {
	MessageCount     int `json:"message_count"`
	ParticipantCount int `json:"participant_count"`
}

// Participant is a (conversation, user) membership.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsSelf      bool   `json:"is_self"`
}

// Message is a normalized message. ContentHTML is the original content
// byte-for-byte; ContentText is derived and never replaces it.
type Message struct {
	ID          string          `json:"id"`
	SenderID    string          `json:"sender_id"`
	SenderName  string          `json:"sender_name"`
	Timestamp   time.Time       `json:"timestamp"`
	MessageType string          `json:"message_type"`
	ContentHTML string          `json:"content_html"`
	ContentText string          `json:"content_text"`
	IsEdited    bool            `json:"is_edited"`
	Structured  *StructuredData `json:"structured_data,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// Attachment belongs to one message.
type Attachment struct {
	Type          string            `json:"type"`
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	ContentType   string            `json:"content_type"`
	Size          int64             `json:"size"`
	LocalPath     string            `json:"local_path,omitempty"`
	ThumbnailPath string            `json:"thumbnail_path,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ConversationType derives the thread type from a Skype conversation id.
// "8:" prefixed ids are direct chats, "19:" prefixed ids are group threads.
func ConversationType(conversationID string) string {
	switch {
	case len(conversationID) >= 2 && conversationID[:2] == "8:":
		return ConversationTypeOneToOne
	case len(conversationID) >= 3 && conversationID[:3] == "19:":
		return ConversationTypeGroup
	default:
		return ConversationTypeUnknown
	}
}
