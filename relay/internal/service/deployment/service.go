// Package deployment opens deployment sessions and announces them to every
// connected client.
package deployment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/splax/deploywatch/relay/internal/fanout"
)

// StatusStarted is the status of a freshly opened session.
const StatusStarted = "started"

// FrameStarted is the broadcast frame type announcing a session.
const FrameStarted = "deployment_started"

// Session describes one deployment the operator is watching.
type Session struct {
	SessionID string         `json:"sessionId"`
	Status    string         `json:"status"`
	StartedAt string         `json:"startedAt"`
	Metadata  map[string]any `json:"metadata"`
}

// Service creates sessions.
type Service struct {
	pub    fanout.Publisher
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New returns a deployment service publishing through pub.
func New(pub fanout.Publisher, logger *slog.Logger) *Service {
	return &Service{
		pub:    pub,
		logger: logger.With("component", "deployment"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Start opens a session for metadata and broadcasts
// {"type":"deployment_started","data":session}. A failed broadcast is logged;
// the session is still returned.
func (s *Service) Start(ctx context.Context, metadata map[string]any) (Session, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	session := Session{
		SessionID: s.newID(),
		Status:    StatusStarted,
		StartedAt: s.now().UTC().Format(time.RFC3339Nano),
		Metadata:  metadata,
	}
	payload, err := json.Marshal(map[string]any{"type": FrameStarted, "data": session})
	if err != nil {
		return Session{}, fmt.Errorf("encode deployment metadata: %w", err)
	}
	if err := s.pub.Publish(ctx, payload); err != nil {
		s.logger.Warn("deployment broadcast failed", "session_id", session.SessionID, "error", err)
	}
	s.logger.Info("deployment session started", "session_id", session.SessionID)
	return session, nil
}
