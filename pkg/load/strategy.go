// Package load lands transformed data into PostgreSQL inside a single
// transaction, through either the adaptive bulk strategy or the per-row
// individual strategy.
package load

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chatlift/skypeetl/pkg/export"
)

// Result counts the rows written by one load.
type Result struct {
	Archives      int `json:"archives"`
	Users         int `json:"users"`
	Conversations int `json:"conversations"`
	Participants  int `json:"participants"`
	Messages      int `json:"messages"`
	Attachments   int `json:"attachments"`
}

// Strategy inserts the transformed payload inside the caller's
// transaction. Implementations flush tables in dependency order:
// users → conversations → participants → messages → attachments.
// The archive row is inserted by the Loader before the strategy runs.
type Strategy interface {
	Insert(ctx context.Context, tx pgx.Tx, data *export.TransformedData, exportID int64) (*Result, error)
	Name() string
}

// Upsert statements. Archives are idempotent via their generated primary
// key; conversations, users, and participants upsert on natural keys;
// duplicate message ids are tolerated and skipped.
const (
	insertUserSQL = `
		INSERT INTO users (id, display_name, is_self, properties)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name),
			is_self = users.is_self OR EXCLUDED.is_self`

	insertConversationSQL = `
		INSERT INTO conversations
			(id, display_name, type, export_id, first_message_time,
			 last_message_time, message_count, participant_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			type = EXCLUDED.type,
			export_id = EXCLUDED.export_id,
			first_message_time = EXCLUDED.first_message_time,
			last_message_time = EXCLUDED.last_message_time,
			message_count = EXCLUDED.message_count,
			participant_count = EXCLUDED.participant_count`

	insertParticipantSQL = `
		INSERT INTO participants (conversation_id, user_id, is_self)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			is_self = EXCLUDED.is_self`

	insertMessageSQL = `
		INSERT INTO messages
			(id, conversation_id, sender_id, sender_name, timestamp,
			 message_type, content_html, content_text, is_edited, structured_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	insertAttachmentSQL = `
		INSERT INTO attachments
			(message_id, type, name, url, content_type, size,
			 local_path, thumbnail_path, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
)

type userRow struct {
	id, displayName string
	isSelf          bool
	properties      []byte
}

type conversationRow struct {
	id, displayName, convType string
	exportID                  int64
	firstMessage, lastMessage *time.Time
	messageCount              int
	participantCount          int
}

type participantRow struct {
	conversationID, userID string
	isSelf                 bool
}

type messageRow struct {
	id, conversationID, senderID, senderName string
	timestamp                                time.Time
	messageType, contentHTML, contentText    string
	isEdited                                 bool
	structured                               []byte
}

type attachmentRow struct {
	messageID, attType, name, url, contentType string
	size                                       int64
	localPath, thumbnailPath                   string
	metadata                                   []byte
}

// tableRows is the full payload in dependency order. Conversation ids are
// sorted so output grouping is deterministic across runs.
type tableRows struct {
	users         []userRow
	conversations []conversationRow
	participants  []participantRow
	messages      []messageRow
	attachments   []attachmentRow
}

func buildRows(data *export.TransformedData, exportID int64) (*tableRows, error) {
	rows := &tableRows{}

	userIDs := make([]string, 0, len(data.Users))
	for id := range data.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	for _, id := range userIDs {
		u := data.Users[id]
		var props []byte
		if len(u.Properties) > 0 {
			var err error
			if props, err = json.Marshal(u.Properties); err != nil {
				return nil, fmt.Errorf("failed to marshal properties for user %s: %w", id, err)
			}
		}
		rows.users = append(rows.users, userRow{
			id:          u.ID,
			displayName: u.DisplayName,
			isSelf:      u.IsSelf,
			properties:  props,
		})
	}

	convIDs := make([]string, 0, len(data.Conversations))
	for id := range data.Conversations {
		convIDs = append(convIDs, id)
	}
	sort.Strings(convIDs)

	for _, convID := range convIDs {
		conv := data.Conversations[convID]
		row := conversationRow{
			id:               conv.ID,
			displayName:      conv.DisplayName,
			convType:         conv.Type,
			exportID:         exportID,
			messageCount:     conv.Metadata.MessageCount,
			participantCount: conv.Metadata.ParticipantCount,
		}
		if !conv.CreatedAt.IsZero() {
			first := conv.CreatedAt.UTC()
			row.firstMessage = &first
		}
		if !conv.LastMessageAt.IsZero() {
			last := conv.LastMessageAt.UTC()
			row.lastMessage = &last
		}
		rows.conversations = append(rows.conversations, row)

		for _, p := range conv.Participants {
			rows.participants = append(rows.participants, participantRow{
				conversationID: conv.ID,
				userID:         p.ID,
				isSelf:         p.IsSelf,
			})
		}

		for i := range conv.Messages {
			msg := &conv.Messages[i]
			var structured []byte
			if msg.Structured != nil {
				var err error
				if structured, err = json.Marshal(msg.Structured); err != nil {
					return nil, fmt.Errorf("failed to marshal structured data for message %s: %w", msg.ID, err)
				}
			}
			rows.messages = append(rows.messages, messageRow{
				id:             msg.ID,
				conversationID: conv.ID,
				senderID:       msg.SenderID,
				senderName:     msg.SenderName,
				timestamp:      msg.Timestamp.UTC(),
				messageType:    msg.MessageType,
				contentHTML:    msg.ContentHTML,
				contentText:    msg.ContentText,
				isEdited:       msg.IsEdited,
				structured:     structured,
			})

			for _, att := range msg.Attachments {
				var meta []byte
				if len(att.Metadata) > 0 {
					var err error
					if meta, err = json.Marshal(att.Metadata); err != nil {
						return nil, fmt.Errorf("failed to marshal attachment metadata for message %s: %w", msg.ID, err)
					}
				}
				rows.attachments = append(rows.attachments, attachmentRow{
					messageID:     msg.ID,
					attType:       att.Type,
					name:          att.Name,
					url:           att.URL,
					contentType:   att.ContentType,
					size:          att.Size,
					localPath:     att.LocalPath,
					thumbnailPath: att.ThumbnailPath,
					metadata:      meta,
				})
			}
		}
	}

	return rows, nil
}

func enqueueUser(b *pgx.Batch, r userRow) {
	b.Queue(insertUserSQL, r.id, r.displayName, r.isSelf, nullableJSON(r.properties))
}

func enqueueConversation(b *pgx.Batch, r conversationRow) {
	b.Queue(insertConversationSQL, r.id, r.displayName, r.convType, r.exportID,
		r.firstMessage, r.lastMessage, r.messageCount, r.participantCount)
}

func enqueueParticipant(b *pgx.Batch, r participantRow) {
	b.Queue(insertParticipantSQL, r.conversationID, r.userID, r.isSelf)
}

func enqueueMessage(b *pgx.Batch, r messageRow) {
	b.Queue(insertMessageSQL, r.id, r.conversationID, r.senderID, r.senderName,
		r.timestamp, r.messageType, r.contentHTML, r.contentText, r.isEdited,
		nullableJSON(r.structured))
}

func enqueueAttachment(b *pgx.Batch, r attachmentRow) {
	b.Queue(insertAttachmentSQL, r.messageID, r.attType, r.name, r.url,
		r.contentType, r.size, r.localPath, r.thumbnailPath, nullableJSON(r.metadata))
}

// nullableJSON maps empty payloads to SQL NULL instead of an empty jsonb
// document.
func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
