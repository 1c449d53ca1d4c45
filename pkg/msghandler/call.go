package msghandler

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/chatlift/skypeetl/pkg/export"
)

// CallHandler covers Event/Call messages. Call-started events carry a bare
// partlist; call-ended events add per-participant durations.
type CallHandler struct{}

// CanHandle matches the call event type.
func (h *CallHandler) CanHandle(messageType string) bool {
	return messageType == "Event/Call"
}

// Extract reads participants and the call duration (the longest
// per-participant duration, in seconds).
func (h *CallHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	var participants []export.CallParticipant
	duration := 0
	doc.Find("partlist part").Each(func(_ int, sel *goquery.Selection) {
		participants = append(participants, export.CallParticipant{
			ID:   sel.AttrOr("identity", ""),
			Name: sel.Find("name").First().Text(),
		})
		if d, err := strconv.Atoi(sel.Find("duration").First().Text()); err == nil && d > duration {
			duration = d
		}
	})

	data.Kind = export.KindCall
	data.Call = &export.CallData{
		Duration:     duration,
		Participants: participants,
	}
	return nil
}
