package msghandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlift/skypeetl/pkg/export"
)

var handlerTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func rawMsg(messageType, content string) *export.RawMessage {
	return &export.RawMessage{
		ID:          "m1",
		DisplayName: "Alice",
		MessageType: messageType,
		Content:     content,
		From:        "8:live:alice",
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		messageType string
		want        Handler
	}{
		{"Text", &TextHandler{}},
		{"RichText", &TextHandler{}},
		{"RichText/Media_GenericFile", &MediaHandler{}},
		{"RichText/Media_Video", &MediaHandler{}},
		{"RichText/ScheduledCallInvite", &ScheduledCallHandler{}},
		{"RichText/Location", &LocationHandler{}},
		{"RichText/Contacts", &ContactsHandler{}},
		{"Poll", &PollHandler{}},
		{"Event/Call", &CallHandler{}},
		{"ThreadActivity/AddMember", &ThreadActivityHandler{}},
		{"InviteFreeRelationshipChanged/Initialized", &UnknownHandler{}},
		{"", &UnknownHandler{}},
	}
	for _, tt := range tests {
		assert.IsType(t, tt.want, r.HandlerFor(tt.messageType), "type %q", tt.messageType)
	}
}

func TestRegistryExtractBaseFields(t *testing.T) {
	r := NewRegistry()
	msg := rawMsg("Text", "hello")
	msg.SkypeEditedID = "m1-edit"

	data, err := r.Extract(msg, handlerTime)
	require.NoError(t, err)
	assert.Equal(t, "m1", data.ID)
	assert.Equal(t, handlerTime, data.Timestamp)
	assert.Equal(t, "8:live:alice", data.SenderID)
	assert.Equal(t, "Alice", data.SenderName)
	assert.Equal(t, "Text", data.MessageType)
	assert.True(t, data.IsEdited)
}

func TestRegistryExtractDegradesToBaseFields(t *testing.T) {
	r := NewRegistry()
	// Truncated poll without a question.
	msg := rawMsg("Poll", `<pollmetadata status="open"/>`)

	data, err := r.Extract(msg, handlerTime)
	require.Error(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "m1", data.ID)
	assert.Equal(t, "Poll", data.MessageType)
	assert.Nil(t, data.Poll)
	assert.Equal(t, export.KindUnknown, data.Kind)
}

func TestTextHandler(t *testing.T) {
	data := &export.StructuredData{}
	msg := rawMsg("RichText", `hi <at id="8:live:bob">Bob</at> <ss type="smile">:)</ss>`)
	require.NoError(t, (&TextHandler{}).Extract(msg, data))
	assert.Equal(t, export.KindText, data.Kind)
	assert.True(t, data.Text.HasMentions)
	assert.True(t, data.Text.HasEmotions)

	data = &export.StructuredData{}
	require.NoError(t, (&TextHandler{}).Extract(rawMsg("Text", "plain words"), data))
	assert.False(t, data.Text.HasMentions)
	assert.False(t, data.Text.HasEmotions)
}

func TestMediaHandler(t *testing.T) {
	content := `<URIObject type="File.1" uri="https://api.asm.skype.com/v1/objects/0-abc"` +
		` url_thumbnail="https://api.asm.skype.com/v1/objects/0-abc/views/thumbnail">` +
		`<OriginalName v="report.pdf"/><FileSize v="2048"/></URIObject>`
	data := &export.StructuredData{}
	require.NoError(t, (&MediaHandler{}).Extract(rawMsg("RichText/Media_GenericFile", content), data))

	assert.Equal(t, export.KindMedia, data.Kind)
	assert.Equal(t, "File.1", data.Media.MediaType)
	assert.Equal(t, "report.pdf", data.Media.MediaFilename)
	assert.Equal(t, "https://api.asm.skype.com/v1/objects/0-abc", data.Media.MediaURL)

	require.Len(t, data.Media.Attachments, 1)
	att := data.Media.Attachments[0]
	assert.Equal(t, int64(2048), att.Size)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, "https://api.asm.skype.com/v1/objects/0-abc/views/thumbnail",
		att.Metadata["thumbnail_url"])
}

func TestMediaHandlerWithoutURIObject(t *testing.T) {
	data := &export.StructuredData{}
	err := (&MediaHandler{}).Extract(rawMsg("RichText/Media_Video", "<b>no object</b>"), data)
	assert.Error(t, err)
}

func TestPollHandler(t *testing.T) {
	content := `<pollquestion>Lunch?</pollquestion>` +
		`<polloption votecount="2">Pizza</polloption>` +
		`<polloption votecount="1" selected="true">Sushi</polloption>` +
		`<pollmetadata status="open" votevisibility="public" creator="8:live:alice"/>`
	data := &export.StructuredData{}
	require.NoError(t, (&PollHandler{}).Extract(rawMsg("Poll", content), data))

	assert.Equal(t, "Lunch?", data.Poll.Question)
	require.Len(t, data.Poll.Options, 2)
	assert.Equal(t, "Pizza", data.Poll.Options[0].Text)
	assert.Equal(t, 2, data.Poll.Options[0].VoteCount)
	assert.True(t, data.Poll.Options[1].IsSelected)
	assert.Equal(t, 3, data.Poll.Metadata.TotalVotes)
	assert.Equal(t, "open", data.Poll.Metadata.Status)
}

func TestCallHandler(t *testing.T) {
	content := `<partlist type="ended">` +
		`<part identity="8:live:alice"><name>Alice</name><duration>120</duration></part>` +
		`<part identity="8:live:bob"><name>Bob</name><duration>118</duration></part>` +
		`</partlist>`
	data := &export.StructuredData{}
	require.NoError(t, (&CallHandler{}).Extract(rawMsg("Event/Call", content), data))

	assert.Equal(t, 120, data.Call.Duration)
	require.Len(t, data.Call.Participants, 2)
	assert.Equal(t, "8:live:alice", data.Call.Participants[0].ID)
	assert.Equal(t, "Bob", data.Call.Participants[1].Name)
}

func TestCallHandlerStartedEvent(t *testing.T) {
	content := `<partlist type="started"><part identity="8:live:alice"><name>Alice</name></part></partlist>`
	data := &export.StructuredData{}
	require.NoError(t, (&CallHandler{}).Extract(rawMsg("Event/Call", content), data))
	assert.Zero(t, data.Call.Duration)
	assert.Len(t, data.Call.Participants, 1)
}

func TestLocationHandler(t *testing.T) {
	content := `<location latitude="47609722" longitude="-122333056" address="Seattle, WA"/>`
	data := &export.StructuredData{}
	require.NoError(t, (&LocationHandler{}).Extract(rawMsg("RichText/Location", content), data))

	assert.InDelta(t, 47.609722, data.Location.Latitude, 1e-9)
	assert.InDelta(t, -122.333056, data.Location.Longitude, 1e-9)
	assert.Equal(t, "Seattle, WA", data.Location.Address)
}

func TestLocationHandlerDegreeRangePassthrough(t *testing.T) {
	content := `<location latitude="47.6" longitude="-122.3"/>`
	data := &export.StructuredData{}
	require.NoError(t, (&LocationHandler{}).Extract(rawMsg("RichText/Location", content), data))
	assert.InDelta(t, 47.6, data.Location.Latitude, 1e-9)
	assert.InDelta(t, -122.3, data.Location.Longitude, 1e-9)
}

func TestLocationHandlerInvalidCoordinates(t *testing.T) {
	data := &export.StructuredData{}
	err := (&LocationHandler{}).Extract(
		rawMsg("RichText/Location", `<location latitude="north" longitude="0"/>`), data)
	assert.Error(t, err)
}

func TestContactsHandler(t *testing.T) {
	content := `<contacts><c f="Bob Smith" p="+15551234" e="bob@example.com" s="8:live:bob"/>` +
		`<c f="Carol Jones" s="8:live:carol"/></contacts>`
	data := &export.StructuredData{}
	require.NoError(t, (&ContactsHandler{}).Extract(rawMsg("RichText/Contacts", content), data))

	require.Len(t, data.Contacts, 2)
	assert.Equal(t, "Bob Smith", data.Contacts[0].Name)
	assert.Equal(t, "+15551234", data.Contacts[0].Phone)
	assert.Equal(t, "8:live:carol", data.Contacts[1].MRI)

	err := (&ContactsHandler{}).Extract(rawMsg("RichText/Contacts", "<contacts/>"), data)
	assert.Error(t, err)
}

func TestThreadActivityHandler(t *testing.T) {
	content := `<addmember><initiator>8:live:alice</initiator>` +
		`<target>8:live:bob</target><target>8:live:carol</target></addmember>`
	data := &export.StructuredData{}
	require.NoError(t, (&ThreadActivityHandler{}).Extract(
		rawMsg("ThreadActivity/AddMember", content), data))

	assert.Equal(t, "AddMember", data.Activity.Type)
	assert.Equal(t, "8:live:alice", data.Activity.Initiator)
	assert.Equal(t, []string{"8:live:bob", "8:live:carol"}, data.Activity.Members)
}

func TestCanonicalActivityType(t *testing.T) {
	tests := []struct {
		messageType string
		want        string
	}{
		{"ThreadActivity/AddMember", "AddMember"},
		{"ThreadActivity/addmember", "AddMember"},
		{"ThreadActivity/TopicUpdate", "TopicUpdate"},
		{"ThreadActivity/DeleteMember", "Deletemember"},
		{"ThreadActivity/PictureUpdate", "Pictureupdate"},
		{"ThreadActivity/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canonicalActivityType(tt.messageType), tt.messageType)
	}
}

func TestScheduledCallHandler(t *testing.T) {
	content := `<scheduledcallinvite title="Standup" callid="c-1" organizer="8:live:alice"` +
		` starttime="2024-01-16T09:00:00Z" endtime="2024-01-16T09:30:00Z">` +
		`<participant>8:live:bob</participant>` +
		`<description>Daily sync</description>` +
		`<a href="https://join.skype.com/abc">Join</a>` +
		`</scheduledcallinvite>`
	data := &export.StructuredData{}
	require.NoError(t, (&ScheduledCallHandler{}).Extract(
		rawMsg("RichText/ScheduledCallInvite", content), data))

	sc := data.ScheduledCall
	assert.Equal(t, "Standup", sc.Title)
	assert.Equal(t, 30, sc.DurationMinutes)
	assert.Equal(t, "8:live:alice", sc.Organizer)
	assert.Equal(t, []string{"8:live:bob"}, sc.Participants)
	assert.Equal(t, "Daily sync", sc.Description)
	assert.Equal(t, "https://join.skype.com/abc", sc.MeetingLink)
	assert.Equal(t, "c-1", sc.CallID)
}

func TestScheduledCallHandlerWithoutTitle(t *testing.T) {
	data := &export.StructuredData{}
	err := (&ScheduledCallHandler{}).Extract(
		rawMsg("RichText/ScheduledCallInvite", `<scheduledcallinvite/>`), data)
	assert.Error(t, err)
}

func TestUnknownHandler(t *testing.T) {
	data := &export.StructuredData{}
	require.NoError(t, (&UnknownHandler{}).Extract(rawMsg("SomeNewType", "abcd"), data))
	assert.Equal(t, export.KindUnknown, data.Kind)
	assert.Equal(t, 4, data.Extras["content_length"])
}

func TestExtractCleanedContent(t *testing.T) {
	e := NewContentExtractor()

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"<b>bold</b> and <i>italic</i>", "bold and italic"},
		{"hi   there\n\tfriend", "hi there friend"},
		{"a &amp; b", "a & b"},
		{`<at id="8:live:bob">Bob</at>: ping`, "Bob: ping"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.ExtractCleanedContent(tt.in), "input %q", tt.in)
	}
}
