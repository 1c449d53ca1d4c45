package msghandler

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/chatlift/skypeetl/pkg/export"
)

// ThreadActivityHandler covers the ThreadActivity/* family (AddMember,
// DeleteMember, TopicUpdate, PictureUpdate, ...).
type ThreadActivityHandler struct{}

// CanHandle matches every thread activity variant.
func (h *ThreadActivityHandler) CanHandle(messageType string) bool {
	return strings.HasPrefix(messageType, "ThreadActivity/")
}

// Extract reads the initiator, affected members, and the activity value
// (topic text, picture URL, ...).
func (h *ThreadActivityHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	var members []string
	doc.Find("target").Each(func(_ int, sel *goquery.Selection) {
		if id := strings.TrimSpace(sel.Text()); id != "" {
			members = append(members, id)
		}
	})

	data.Kind = export.KindActivity
	data.Activity = &export.ActivityData{
		Type:      canonicalActivityType(msg.MessageType),
		Members:   members,
		Initiator: strings.TrimSpace(doc.Find("initiator").First().Text()),
		Value:     strings.TrimSpace(doc.Find("value").First().Text()),
	}
	return nil
}

// canonicalActivityType normalizes the token after "ThreadActivity/".
// AddMember and TopicUpdate keep their historical camel casing; everything
// else gets a plain first-letter titlecase. Kept bug-compatible with the
// original export tooling.
func canonicalActivityType(messageType string) string {
	token := strings.TrimPrefix(messageType, "ThreadActivity/")
	switch strings.ToLower(token) {
	case "addmember":
		return "AddMember"
	case "topicupdate":
		return "TopicUpdate"
	}
	if token == "" {
		return token
	}
	runes := []rune(strings.ToLower(token))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
