package msghandler

import (
	"fmt"
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/chatlift/skypeetl/pkg/export"
)

// PollHandler covers Poll messages.
type PollHandler struct{}

// CanHandle matches the Poll message type.
func (h *PollHandler) CanHandle(messageType string) bool {
	return messageType == "Poll"
}

// Extract reads the question, options with vote counts, and poll metadata.
// Truncated or unrecognizable poll HTML degrades the whole record to base
// fields.
func (h *PollHandler) Extract(msg *export.RawMessage, data *export.StructuredData) error {
	doc, err := parseHTML(msg.Content)
	if err != nil {
		return err
	}

	question := doc.Find("pollquestion").First().Text()
	if question == "" {
		return fmt.Errorf("poll message has no question")
	}

	var options []export.PollOption
	totalVotes := 0
	doc.Find("polloption").Each(func(_ int, sel *goquery.Selection) {
		votes, _ := strconv.Atoi(sel.AttrOr("votecount", "0"))
		totalVotes += votes
		options = append(options, export.PollOption{
			Text:       sel.Text(),
			VoteCount:  votes,
			IsSelected: sel.AttrOr("selected", "") == "true",
		})
	})

	meta := doc.Find("pollmetadata").First()
	data.Kind = export.KindPoll
	data.Poll = &export.PollData{
		Question: question,
		Options:  options,
		Metadata: export.PollMetadata{
			Status:         meta.AttrOr("status", ""),
			VoteVisibility: meta.AttrOr("votevisibility", ""),
			Creator:        meta.AttrOr("creator", ""),
			TotalVotes:     totalVotes,
		},
	}
	return nil
}
