package msghandler

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/chatlift/skypeetl/pkg/export"
)

// ContactsHandler covers RichText/Contacts messages. Each shared card is a
// <c> element with single-letter attributes: s (MRI), f (full name),
// p (phone), e (email).
type ContactsHandler struct{}

// CanHandle matches the contacts message type.
func (h *ContactsHandler) CanHandle(messageType string) bool {
	return messageType == "RichText/Contacts"
}

// Extract reads all shared contact cards.
func (h *ContactsHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	var contacts []export.Contact
	doc.Find("contacts c").Each(func(_ int, sel *goquery.Selection) {
		contacts = append(contacts, export.Contact{
			Name:  sel.AttrOr("f", ""),
			Phone: sel.AttrOr("p", ""),
			Email: sel.AttrOr("e", ""),
			MRI:   sel.AttrOr("s", ""),
		})
	})
	if len(contacts) == 0 {
		return fmt.Errorf("contacts message has no contact cards")
	}

	data.Kind = export.KindContacts
	data.Contacts = contacts
	return nil
}
