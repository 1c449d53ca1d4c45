package msghandler

import (
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chatlift/skypeetl/pkg/export"
)

// MediaHandler covers the RichText/Media_* family (GenericFile, Video,
// AudioMsg, Album, Card, ...). Content carries a URIObject element.
type MediaHandler struct{}

// CanHandle matches all media variants.
func (h *MediaHandler) CanHandle(messageType string) bool {
	return strings.HasPrefix(messageType, "RichText/Media_")
}

// Extract reads the URIObject into an attachment plus the media_* summary
// fields.
func (h *MediaHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	obj := doc.Find("uriobject").First()
	if obj.Length() == 0 {
		return fmt.Errorf("media message has no URIObject")
	}

	mediaType := obj.AttrOr("type", "")
	if mediaType == "" {
		mediaType = strings.TrimPrefix(msg.MessageType, "RichText/Media_")
	}
	filename := obj.Find("originalname").AttrOr("v", "")
	url := obj.AttrOr("uri", "")

	var size int64
	if v := obj.Find("filesize").AttrOr("v", ""); v != "" {
		size, _ = strconv.ParseInt(v, 10, 64)
	}

	attachment := export.Attachment{
		Type:        mediaType,
		Name:        filename,
		URL:         url,
		ContentType: contentTypeFor(filename),
		Size:        size,
	}
	if thumb := obj.AttrOr("url_thumbnail", ""); thumb != "" {
		attachment.Metadata = map[string]string{"thumbnail_url": thumb}
	}

	data.Kind = export.KindMedia
	data.Media = &export.MediaData{
		MediaType:     mediaType,
		MediaFilename: filename,
		MediaURL:      url,
		Attachments:   []export.Attachment{attachment},
	}
	return nil
}

func contentTypeFor(filename string) string {
	if filename == "" {
		return ""
	}
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
}
