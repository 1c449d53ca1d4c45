package load

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatlift/skypeetl/pkg/export"
)

// IndividualStrategy inserts one row per statement. Slower than the bulk
// strategy, but any failure points at the exact offending row, which
// makes it the right tool for debugging bad exports.
type IndividualStrategy struct{}

// NewIndividualStrategy creates the per-row strategy.
func NewIndividualStrategy() *IndividualStrategy { return &IndividualStrategy{} }

// Name identifies the strategy in logs and summaries.
func (s *IndividualStrategy) Name() string { return "individual" }

// Insert writes the payload row by row in dependency order.
func (s *IndividualStrategy) Insert(ctx context.Context, tx pgx.Tx, data *export.TransformedData, exportID int64) (*Result, error) {
	rows, err := buildRows(data, exportID)
	if err != nil {
		return nil, err
	}

	res := &Result{}

	for _, r := range rows.users {
		ct, err := tx.Exec(ctx, insertUserSQL, r.id, r.displayName, r.isSelf, nullableJSON(r.properties))
		if err != nil {
			return res, fmt.Errorf("failed to insert user %s: %w", r.id, err)
		}
		res.Users += int(ct.RowsAffected())
	}

	for _, r := range rows.conversations {
		ct, err := tx.Exec(ctx, insertConversationSQL, r.id, r.displayName, r.convType,
			r.exportID, r.firstMessage, r.lastMessage, r.messageCount, r.participantCount)
		if err != nil {
			return res, fmt.Errorf("failed to insert conversation %s: %w", r.id, err)
		}
		res.Conversations += int(ct.RowsAffected())
	}

	for _, r := range rows.participants {
		ct, err := tx.Exec(ctx, insertParticipantSQL, r.conversationID, r.userID, r.isSelf)
		if err != nil {
			return res, fmt.Errorf("failed to insert participant %s in %s: %w",
				r.userID, r.conversationID, err)
		}
		res.Participants += int(ct.RowsAffected())
	}

	for _, r := range rows.messages {
		ct, err := tx.Exec(ctx, insertMessageSQL, r.id, r.conversationID, r.senderID,
			r.senderName, r.timestamp, r.messageType, r.contentHTML, r.contentText,
			r.isEdited, nullableJSON(r.structured))
		if err != nil {
			return res, fmt.Errorf("failed to insert message %s: %w", r.id, err)
		}
		res.Messages += int(ct.RowsAffected())
	}

	for _, r := range rows.attachments {
		ct, err := tx.Exec(ctx, insertAttachmentSQL, r.messageID, r.attType, r.name,
			r.url, r.contentType, r.size, r.localPath, r.thumbnailPath, nullableJSON(r.metadata))
		if err != nil {
			return res, fmt.Errorf("failed to insert attachment for message %s: %w",
				r.messageID, err)
		}
		res.Attachments += int(ct.RowsAffected())
	}

	return res, nil
}
