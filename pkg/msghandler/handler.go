// Package msghandler turns raw Skype messages into typed structured data.
// A registry dispatches on the free-form messagetype token to the first
// handler that matches; the terminal handler accepts everything. Handlers
// never fail a message: a parse failure degrades the record to its base
// fields and surfaces as a non-fatal warning.
package msghandler

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/chatlift/skypeetl/pkg/export"
)

// Handler extracts one message variant. Extract fills variant fields onto
// the provided record, whose base fields are already populated.
type Handler interface {
	CanHandle(messageType string) bool
	Extract(msg *export.RawMessage, data *export.StructuredData) error
}

// Registry owns the ordered handler list. More specific handlers come
// before generic ones; UnknownHandler is terminal and always matches.
type Registry struct {
	handlers []Handler
}

// NewRegistry builds the default handler chain.
func NewRegistry() *Registry {
	return &Registry{
		handlers: []Handler{
			&MediaHandler{},
			&ScheduledCallHandler{},
			&LocationHandler{},
			&ContactsHandler{},
			&TextHandler{},
			&PollHandler{},
			&CallHandler{},
			&ThreadActivityHandler{},
			&UnknownHandler{},
		},
	}
}

// HandlerFor returns the first handler whose CanHandle matches.
func (r *Registry) HandlerFor(messageType string) Handler {
	for _, h := range r.handlers {
		if h.CanHandle(messageType) {
			return h
		}
	}
	// Unreachable: UnknownHandler is terminal.
	return r.handlers[len(r.handlers)-1]
}

// Extract builds the structured record for a message. On handler failure
// the returned record carries only the base fields and the error is
// returned for the caller to log as a non-fatal warning.
func (r *Registry) Extract(msg *export.RawMessage, timestamp time.Time) (*export.StructuredData, error) {
	data := baseData(msg, timestamp)
	if err := r.HandlerFor(msg.MessageType).Extract(msg, data); err != nil {
		return baseData(msg, timestamp), err
	}
	return data, nil
}

func baseData(msg *export.RawMessage, timestamp time.Time) *export.StructuredData {
	return &export.StructuredData{
		ID:          msg.ID,
		Timestamp:   timestamp,
		SenderID:    msg.From,
		SenderName:  msg.DisplayName,
		MessageType: msg.MessageType,
		IsEdited:    msg.IsEdited(),
		Kind:        export.KindUnknown,
	}
}

// parseHTML parses message content into a queryable document. Skype's
// custom tags (uriobject, partlist, at, ss) survive HTML parsing as
// lowercase elements.
func parseHTML(content string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(content))
}
