package export

import (
	"encoding/json"
	"time"
)

// StructuredKind tags the variant of a structured-data record.
type StructuredKind string

// Known structured-data variants.
const (
	KindText          StructuredKind = "text"
	KindMedia         StructuredKind = "media"
	KindPoll          StructuredKind = "poll"
	KindCall          StructuredKind = "call"
	KindLocation      StructuredKind = "location"
	KindContacts      StructuredKind = "contacts"
	KindActivity      StructuredKind = "activity"
	KindScheduledCall StructuredKind = "scheduled_call"
	KindUnknown       StructuredKind = "unknown"
)

// StructuredData is the tagged union produced by the message handlers. The
// base fields are present for every message; exactly one variant pointer is
// set for known types. Extras carries payload the handlers do not model.
type StructuredData struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	SenderID    string    `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	MessageType string    `json:"message_type"`
	IsEdited    bool      `json:"is_edited"`

	Kind StructuredKind `json:"-"`

	Text          *TextData          `json:"-"`
	Media         *MediaData         `json:"-"`
	Poll          *PollData          `json:"-"`
	Call          *CallData          `json:"-"`
	Location      *LocationData      `json:"-"`
	Contacts      []Contact          `json:"-"`
	Activity      *ActivityData      `json:"-"`
	ScheduledCall *ScheduledCallData `json:"-"`

	Extras map[string]any `json:"-"`
}

// TextData covers Text and RichText messages.
type TextData struct {
	HasMentions bool `json:"has_mentions"`
	HasEmotions bool `json:"has_emotions"`
}

// MediaData covers the RichText/Media_* family.
type MediaData struct {
	MediaType     string       `json:"media_type"`
	MediaFilename string       `json:"media_filename"`
	MediaURL      string       `json:"media_url"`
	Attachments   []Attachment `json:"attachments"`
}

// PollData covers Poll messages.
type PollData struct {
	Question string       `json:"poll_question"`
	Options  []PollOption `json:"poll_options"`
	Metadata PollMetadata `json:"poll_metadata"`
}

// PollOption is one selectable poll answer.
type PollOption struct {
	Text       string `json:"text"`
	VoteCount  int    `json:"vote_count"`
	IsSelected bool   `json:"is_selected"`
}

// PollMetadata carries poll state beyond the options.
type PollMetadata struct {
	Status         string `json:"status"`
	VoteVisibility string `json:"vote_visibility"`
	Creator        string `json:"creator"`
	TotalVotes     int    `json:"total_votes"`
}

// CallData covers Event/Call messages.
type CallData struct {
	Duration     int               `json:"call_duration"`
	Participants []CallParticipant `json:"call_participants"`
}

// CallParticipant is one member of a call.
type CallParticipant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LocationData covers RichText/Location messages.
type LocationData struct {
	Latitude  float64 `json:"location_latitude"`
	Longitude float64 `json:"location_longitude"`
	Address   string  `json:"location_address"`
}

// Contact is one shared contact card.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	MRI   string `json:"mri"`
}

// ActivityData covers the ThreadActivity/* family.
type ActivityData struct {
	Type      string   `json:"activity_type"`
	Members   []string `json:"activity_members"`
	Initiator string   `json:"activity_initiator"`
	Value     string   `json:"activity_value"`
}

// ScheduledCallData covers RichText/ScheduledCallInvite messages.
type ScheduledCallData struct {
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Organizer       string    `json:"organizer"`
	Participants    []string  `json:"participants"`
	Description     string    `json:"description"`
	MeetingLink     string    `json:"meeting_link"`
	CallID          string    `json:"call_id"`
}

// MarshalJSON flattens the union into a single object: base fields plus the
// variant's fields at the top level. This is the shape persisted into the
// structured_data column.
func (s *StructuredData) MarshalJSON() ([]byte, error) {
	doc := map[string]any{
		"id":           s.ID,
		"timestamp":    s.Timestamp.UTC().Format(time.RFC3339),
		"sender_id":    s.SenderID,
		"sender_name":  s.SenderName,
		"message_type": s.MessageType,
		"is_edited":    s.IsEdited,
	}

	switch {
	case s.Text != nil:
		doc["has_mentions"] = s.Text.HasMentions
		doc["has_emotions"] = s.Text.HasEmotions
	case s.Media != nil:
		doc["media_type"] = s.Media.MediaType
		doc["media_filename"] = s.Media.MediaFilename
		doc["media_url"] = s.Media.MediaURL
		doc["attachments"] = s.Media.Attachments
	case s.Poll != nil:
		doc["poll_question"] = s.Poll.Question
		doc["poll_options"] = s.Poll.Options
		doc["poll_metadata"] = s.Poll.Metadata
	case s.Call != nil:
		doc["call_duration"] = s.Call.Duration
		doc["call_participants"] = s.Call.Participants
	case s.Location != nil:
		doc["location_latitude"] = s.Location.Latitude
		doc["location_longitude"] = s.Location.Longitude
		doc["location_address"] = s.Location.Address
	case s.Contacts != nil:
		doc["contacts"] = s.Contacts
	case s.Activity != nil:
		doc["activity_type"] = s.Activity.Type
		doc["activity_members"] = s.Activity.Members
		doc["activity_initiator"] = s.Activity.Initiator
		doc["activity_value"] = s.Activity.Value
	case s.ScheduledCall != nil:
		doc["scheduled_call"] = s.ScheduledCall
	}

	for k, v := range s.Extras {
		if _, taken := doc[k]; !taken {
			doc[k] = v
		}
	}

	return json.Marshal(doc)
}

// UnmarshalJSON restores a flattened record. Base fields are decoded into
// their struct fields; every other key is retained in Extras so a
// checkpointed record marshals back to the same document. The variant
// pointers are not reconstructed; resumed data is load-only.
func (s *StructuredData) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	str := func(key string) string {
		var v string
		if raw, ok := doc[key]; ok {
			_ = json.Unmarshal(raw, &v)
		}
		return v
	}

	s.ID = str("id")
	s.SenderID = str("sender_id")
	s.SenderName = str("sender_name")
	s.MessageType = str("message_type")
	if raw, ok := doc["is_edited"]; ok {
		_ = json.Unmarshal(raw, &s.IsEdited)
	}
	if ts, err := time.Parse(time.RFC3339, str("timestamp")); err == nil {
		s.Timestamp = ts
	}

	base := map[string]bool{
		"id": true, "timestamp": true, "sender_id": true,
		"sender_name": true, "message_type": true, "is_edited": true,
	}
	s.Kind = KindUnknown
	s.Extras = make(map[string]any)
	for k, raw := range doc {
		if base[k] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		s.Extras[k] = v
	}
	if len(s.Extras) == 0 {
		s.Extras = nil
	}
	return nil
}
