package msghandler

import "github.com/chatlift/skypeetl/pkg/export"

// TextHandler covers plain Text and RichText messages.
type TextHandler struct{}

// CanHandle matches the two plain-text message types.
func (h *TextHandler) CanHandle(messageType string) bool {
	return messageType == "Text" || messageType == "RichText"
}

// Extract flags mentions (<at> tags) and emoticons (<ss> tags).
func (h *TextHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}
	data.Kind = export.KindText
	data.Text = &export.TextData{
		HasMentions: doc.Find("at").Length() > 0,
		HasEmotions: doc.Find("ss").Length() > 0,
	}
	return nil
}
