package facade

import (
	"context"

	"github.com/recallhq/recall-go/pkg/core"
)

// summaryTTLDays bounds how long session summaries survive.
const summaryTTLDays = 30

// SessionMemory manages one conversation: the raw transcript plus the
// durable memories promoted out of it.
type SessionMemory struct {
	engine    *core.Engine
	owner     string
	sessionID string
}

// NewSessionMemory creates a session-memory façade for one conversation.
func NewSessionMemory(engine *core.Engine, owner, sessionID string) *SessionMemory {
	return &SessionMemory{engine: engine, owner: owner, sessionID: sessionID}
}

// AddTurn appends one transcript turn. Turns are append-only and swept by
// the janitor after the retention window.
func (s *SessionMemory) AddTurn(ctx context.Context, role, content string, metadata map[string]interface{}) (int64, error) {
	return s.engine.SaveSessionMessage(ctx, s.sessionID, role, content, metadata)
}

// Context returns the session's most recent turns in chronological order.
func (s *SessionMemory) Context(ctx context.Context, limit int) ([]*core.SessionMessage, error) {
	return s.engine.SessionContext(ctx, s.sessionID, limit)
}

// PromoteTurn saves an important turn as a durable session memory,
// outliving the transcript retention window.
func (s *SessionMemory) PromoteTurn(ctx context.Context, role, content string) (int64, error) {
	return s.engine.Save(ctx, content,
		core.WithKind(core.KindSession),
		core.WithOwner(s.owner),
		core.WithMetadata(map[string]interface{}{
			"type":       "important_turn",
			"session_id": s.sessionID,
			"role":       role,
		}),
	)
}

// SaveSummary stores a conversation summary with a bounded lifetime.
func (s *SessionMemory) SaveSummary(ctx context.Context, summary string) (int64, error) {
	return s.engine.Save(ctx, summary,
		core.WithKind(core.KindSession),
		core.WithOwner(s.owner),
		core.WithTTLDays(summaryTTLDays),
		core.WithMetadata(map[string]interface{}{
			"type":       "summary",
			"session_id": s.sessionID,
		}),
	)
}
