package msghandler

import "github.com/chatlift/skypeetl/pkg/export"

// UnknownHandler is the terminal handler. It matches every message type
// and produces only the base fields plus a small extras payload.
type UnknownHandler struct{}

// CanHandle always matches.
func (h *UnknownHandler) CanHandle(string) bool { return true }

// Extract keeps the record at base fields and notes the raw content size.
func (h *UnknownHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	data.Kind = export.KindUnknown
	data.Extras = map[string]any{
		"content_length": len(msg.Content),
	}
	return nil
}
