package msghandler

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// ContentExtractor derives cleaned text from message HTML. The original
// HTML is always preserved elsewhere; the cleaned form is additive.
type ContentExtractor struct{}

// NewContentExtractor creates a ContentExtractor.
func NewContentExtractor() *ContentExtractor {
	return &ContentExtractor{}
}

// ExtractCleanedContent strips markup, decodes entities, and collapses
// whitespace. When the content cannot be parsed as HTML, a regex strip is
// the fallback so cleaning never fails a message.
func (e *ContentExtractor) ExtractCleanedContent(content string) string {
	if content == "" {
		return ""
	}

	doc, err := parseHTML(content)
	if err != nil {
		stripped := tagPattern.ReplaceAllString(content, " ")
		return collapseWhitespace(html.UnescapeString(stripped))
	}
	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
