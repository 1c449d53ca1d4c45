// Package transform normalizes raw conversations into the loadable data
// model, parallelizing message transformation across fixed-size chunks.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/chatlift/skypeetl/pkg/export"
	"github.com/chatlift/skypeetl/pkg/msghandler"
	"github.com/chatlift/skypeetl/pkg/run"
)

// Transformer consumes a raw export and produces the normalized structure
// the loader persists. Chunk processing shares only immutable inputs;
// every chunk returns fresh output merged after the pool drains.
type Transformer struct {
	rc       *run.Context
	registry *msghandler.Registry
	content  *msghandler.ContentExtractor
	log      *slog.Logger

	processed atomic.Int64
	total     int64
}

// New creates a Transformer bound to the run Context.
func New(rc *run.Context) *Transformer {
	return &Transformer{
		rc:       rc,
		registry: msghandler.NewRegistry(),
		content:  msghandler.NewContentExtractor(),
		log:      slog.With("component", "transformer"),
	}
}

// Transform normalizes the raw export. Per-message failures are skipped
// with a warning; a conversation missing its MessageList is a structural
// error that fails the phase.
func (t *Transformer) Transform(ctx context.Context, raw *export.RawExport) (*export.TransformedData, error) {
	if raw == nil || raw.Conversations == nil {
		err := fmt.Errorf("raw data has no conversations")
		t.rc.RecordError(run.PhaseTransform, err.Error(), nil, true)
		return nil, err
	}

	// One fallback instant per run keeps parallel and sequential output
	// identical for unparseable timestamps.
	ingestTime := time.Now().UTC()

	totalMessages := 0
	for _, conv := range raw.Conversations {
		totalMessages += len(conv.MessageList)
	}
	t.total = int64(totalMessages)
	t.processed.Store(0)
	t.rc.Progress.Reset(totalMessages)

	_, selfName, _ := t.rc.UserMetadata()
	result := &export.TransformedData{
		User:          export.UserInfo{ID: raw.UserID, DisplayName: selfName},
		Users:         make(map[string]*export.User),
		Conversations: make(map[string]*export.Conversation, len(raw.Conversations)),
	}
	result.Users[raw.UserID] = &export.User{
		ID:          raw.UserID,
		DisplayName: selfName,
		IsSelf:      true,
	}

	for _, rawConv := range raw.Conversations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t.rc.Memory.Check()

		conv, users, err := t.transformConversation(ctx, rawConv, ingestTime, raw.UserID)
		if err != nil {
			t.rc.RecordError(run.PhaseTransform, err.Error(),
				map[string]any{"conversation_id": rawConv.ID}, true)
			return nil, err
		}
		result.Conversations[conv.ID] = conv
		mergeUsers(result.Users, users, raw.UserID)
	}

	messageCount := 0
	for _, conv := range result.Conversations {
		messageCount += len(conv.Messages)
	}
	result.Metadata = export.TransformMetadata{
		TransformedAt:     time.Now().UTC(),
		ConversationCount: len(result.Conversations),
		MessageCount:      messageCount,
	}

	t.rc.Phases.UpdateMetric(run.PhaseTransform, "conversation_count", result.Metadata.ConversationCount)
	t.rc.Phases.UpdateMetric(run.PhaseTransform, "message_count", messageCount)
	t.log.Info("Transform complete",
		"conversations", result.Metadata.ConversationCount,
		"messages", messageCount)
	return result, nil
}

func (t *Transformer) transformConversation(
	ctx context.Context,
	rawConv *export.RawConversation,
	ingestTime time.Time,
	selfID string,
) (*export.Conversation, map[string]*export.User, error) {
	if rawConv.MessageList == nil {
		return nil, nil, fmt.Errorf("conversation %s has no MessageList", rawConv.ID)
	}

	cfg := t.rc.Config.ETL
	chunks := chunkMessages(rawConv.MessageList, cfg.ChunkSize)

	worker := func(chunk []*export.RawMessage) chunkResult {
		return t.transformChunk(rawConv.ID, chunk, ingestTime)
	}
	onDone := func(n int) {
		done := t.processed.Add(int64(n))
		t.rc.Progress.Update(int(done), int(t.total))
	}

	var results []chunkResult
	if cfg.ParallelProcessing && len(chunks) > 1 {
		var err error
		results, err = processChunks(ctx, chunks, cfg.MaxWorkers, worker, onDone)
		if err != nil {
			return nil, nil, err
		}
	} else {
		for _, chunk := range chunks {
			results = append(results, worker(chunk))
			onDone(len(chunk))
		}
	}

	users := make(map[string]*export.User)
	var messages []export.Message
	for _, res := range results {
		messages = append(messages, res.messages...)
		for id, u := range res.users {
			if existing, ok := users[id]; !ok || existing.DisplayName == "" {
				users[id] = u
			}
		}
	}

	// Deterministic order regardless of chunk scheduling: timestamp
	// ascending, message id as tie-breaker.
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	conv := &export.Conversation{
		ID:          rawConv.ID,
		DisplayName: rawConv.DisplayName,
		Type:        export.ConversationType(rawConv.ID),
		Messages:    messages,
	}
	if len(messages) > 0 {
		conv.CreatedAt = messages[0].Timestamp
		conv.LastMessageAt = messages[len(messages)-1].Timestamp
	}

	for _, u := range users {
		conv.Participants = append(conv.Participants, export.Participant{
			ID:          u.ID,
			DisplayName: u.DisplayName,
			IsSelf:      u.ID == selfID,
		})
	}
	sort.Slice(conv.Participants, func(i, j int) bool {
		return conv.Participants[i].ID < conv.Participants[j].ID
	})

	conv.Metadata = export.ConversationMetadata{
		MessageCount:     len(messages),
		ParticipantCount: len(conv.Participants),
	}
	return conv, users, nil
}

// transformChunk processes one chunk sequentially. A failing message is
// logged and skipped; the chunk's surviving messages are retained.
func (t *Transformer) transformChunk(conversationID string, chunk []*export.RawMessage, ingestTime time.Time) chunkResult {
	res := chunkResult{users: make(map[string]*export.User)}
	for _, rawMsg := range chunk {
		msg, ok := t.transformMessage(conversationID, rawMsg, ingestTime)
		if !ok {
			continue
		}
		res.messages = append(res.messages, msg)
		if msg.SenderID != "" {
			if existing, found := res.users[msg.SenderID]; !found || existing.DisplayName == "" {
				res.users[msg.SenderID] = &export.User{
					ID:          msg.SenderID,
					DisplayName: msg.SenderName,
				}
			}
		}
	}
	return res
}

func (t *Transformer) transformMessage(conversationID string, rawMsg *export.RawMessage, ingestTime time.Time) (export.Message, bool) {
	if rawMsg == nil || (rawMsg.ID == "" && rawMsg.MessageType == "" && rawMsg.Content == "") {
		t.rc.RecordError(run.PhaseTransform, "skipping empty message",
			map[string]any{"conversation_id": conversationID}, false)
		return export.Message{}, false
	}

	ts, fellBack := rawMsg.Timestamp(ingestTime)
	if fellBack {
		t.rc.RecordError(run.PhaseTransform, "message timestamp unparseable, using ingest time",
			map[string]any{
				"conversation_id": conversationID,
				"message_id":      rawMsg.ID,
				"value":           rawMsg.OriginalArrivalTime,
			}, false)
	}

	structured, err := t.registry.Extract(rawMsg, ts)
	if err != nil {
		t.rc.RecordError(run.PhaseTransform, "handler failed, keeping base fields",
			map[string]any{
				"conversation_id": conversationID,
				"message_id":      rawMsg.ID,
				"message_type":    rawMsg.MessageType,
				"error":           err.Error(),
			}, false)
	}

	msg := export.Message{
		ID:          rawMsg.ID,
		SenderID:    rawMsg.From,
		SenderName:  rawMsg.DisplayName,
		Timestamp:   ts,
		MessageType: rawMsg.MessageType,
		ContentHTML: rawMsg.Content,
		ContentText: t.content.ExtractCleanedContent(rawMsg.Content),
		IsEdited:    rawMsg.IsEdited(),
		Structured:  structured,
	}
	if structured != nil && structured.Media != nil {
		msg.Attachments = structured.Media.Attachments
	}
	return msg, true
}

func mergeUsers(dst, src map[string]*export.User, selfID string) {
	for id, u := range src {
		if id == selfID {
			continue
		}
		if existing, ok := dst[id]; !ok || existing.DisplayName == "" {
			dst[id] = u
		}
	}
}
