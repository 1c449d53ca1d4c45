package msghandler

import (
	"fmt"
	"math"
	"strconv"

	"github.com/chatlift/skypeetl/pkg/export"
)

// LocationHandler covers RichText/Location messages.
type LocationHandler struct{}

// CanHandle matches the location message type.
func (h *LocationHandler) CanHandle(messageType string) bool {
	return messageType == "RichText/Location"
}

// Extract reads coordinates and the address. Skype encodes coordinates as
// degrees scaled by 1e6; values already in degree range pass through.
func (h *LocationHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	loc := doc.Find("location").First()
	if loc.Length() == 0 {
		return fmt.Errorf("location message has no location element")
	}

	lat, err := parseCoordinate(loc.AttrOr("latitude", ""))
	if err != nil {
		return fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := parseCoordinate(loc.AttrOr("longitude", ""))
	if err != nil {
		return fmt.Errorf("invalid longitude: %w", err)
	}

	address := loc.AttrOr("address", "")
	if address == "" {
		address = loc.Find("address").First().Text()
	}

	data.Kind = export.KindLocation
	data.Location = &export.LocationData{
		Latitude:  lat,
		Longitude: lon,
		Address:   address,
	}
	return nil
}

func parseCoordinate(value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.Abs(v) >= 1000 {
		v /= 1e6
	}
	return v, nil
}
