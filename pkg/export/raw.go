// Package export defines the data model shared by the ETL phases: the raw
// shapes decoded from a Skype export document and the normalized shapes the
// transformer produces for loading.
package export

import "time"

// RawExport is the extracted view of one Skype export document. Metadata is
// populated before any conversation is materialized.
type RawExport struct {
	UserID        string             `json:"userId"`
	ExportDate    string             `json:"exportDate"`
	Conversations []*RawConversation `json:"conversations"`
}

// RawConversation is one conversation object in file order. A conversation
// with an empty MessageList decodes to a non-nil empty slice; a missing
// MessageList stays nil, which the transformer treats as a structural error.
type RawConversation struct {
	ID              string            `json:"id"`
	DisplayName     string            `json:"displayName"`
	Version         float64           `json:"version,omitempty"`
	ThreadProps     map[string]any    `json:"threadProperties,omitempty"`
	MessageList     []*RawMessage     `json:"MessageList"`
	ExtraProperties map[string]string `json:"properties,omitempty"`
}

// RawMessage carries the fields the transformer and handlers consume. The
// original HTML content is never rewritten; it travels through the pipeline
// verbatim in Content.
type RawMessage struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"displayName"`
	OriginalArrivalTime string `json:"originalarrivaltime"`
	MessageType         string `json:"messagetype"`
	Content             string `json:"content"`
	From                string `json:"from"`
	ConversationID      string `json:"conversationid,omitempty"`
	SkypeEditedID       string `json:"skypeeditedid,omitempty"`
	Version             any    `json:"version,omitempty"`
}

// IsEdited reports whether the message carries a Skype edit marker.
func (m *RawMessage) IsEdited() bool {
	return m.SkypeEditedID != ""
}

// Timestamp parses the message arrival time. Unparseable timestamps fall
// back to the supplied ingest time; the boolean reports whether the fallback
// was used.
func (m *RawMessage) Timestamp(fallback time.Time) (time.Time, bool) {
	return ParseTimestamp(m.OriginalArrivalTime, fallback)
}

// ParseTimestamp parses an ISO-8601 timestamp into UTC. When the value does
// not parse, the fallback is returned and the boolean is true.
func ParseTimestamp(value string, fallback time.Time) (time.Time, bool) {
	if value == "" {
		return fallback.UTC(), true
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), false
		}
	}
	return fallback.UTC(), true
}
