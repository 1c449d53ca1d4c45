package msghandler

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chatlift/skypeetl/pkg/export"
)

// ScheduledCallHandler covers RichText/ScheduledCallInvite messages.
type ScheduledCallHandler struct{}

// CanHandle matches the scheduled call invite type.
func (h *ScheduledCallHandler) CanHandle(messageType string) bool {
	return messageType == "RichText/ScheduledCallInvite"
}

// Extract reads the scheduled call card: title, time window, organizer,
// participants, and the meeting link. An invite without a recognizable
// title degrades to base fields.
func (h *ScheduledCallHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	invite := doc.Find("scheduledcallinvite").First()
	if invite.Length() == 0 {
		return fmt.Errorf("scheduled call message has no invite element")
	}

	title := invite.AttrOr("title", "")
	if title == "" {
		title = strings.TrimSpace(invite.Find("title").First().Text())
	}
	if title == "" {
		return fmt.Errorf("scheduled call invite has no title")
	}

	start := parseInviteTime(invite, "starttime")
	end := parseInviteTime(invite, "endtime")
	durationMinutes := 0
	if !start.IsZero() && !end.IsZero() && end.After(start) {
		durationMinutes = int(end.Sub(start).Minutes())
	}

	var participants []string
	invite.Find("participant").Each(func(_ int, sel *goquery.Selection) {
		if p := strings.TrimSpace(sel.Text()); p != "" {
			participants = append(participants, p)
		}
	})

	data.Kind = export.KindScheduledCall
	data.ScheduledCall = &export.ScheduledCallData{
		Title:           title,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: durationMinutes,
		Organizer:       invite.AttrOr("organizer", ""),
		Participants:    participants,
		Description:     strings.TrimSpace(invite.Find("description").First().Text()),
		MeetingLink:     invite.Find("a").First().AttrOr("href", ""),
		CallID:          invite.AttrOr("callid", ""),
	}
	return nil
}

// parseInviteTime reads an ISO-8601 time from either an attribute or a
// child element of the same name.
func parseInviteTime(invite *goquery.Selection, name string) time.Time {
	value := invite.AttrOr(name, "")
	if value == "" {
		value = strings.TrimSpace(invite.Find(name).First().Text())
	}
	if value == "" {
		return time.Time{}
	}
	ts, fellBack := export.ParseTimestamp(value, time.Time{})
	if fellBack {
		return time.Time{}
	}
	return ts
}
