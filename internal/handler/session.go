package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DefaultSessionTTL bounds how long an unfinished flow survives
const DefaultSessionTTL = 30 * time.Minute

// Step is the position of a user inside the conversation
type Step string

const (
	StepIdle Step = ""
	// StepActive follows an explicit /use and keeps the chat claim
	StepActive Step = "active"
	// StepAwaitContent waits for the text or photo of a post
	StepAwaitContent Step = "await_content"
)

// Draft is the per-user conversation state kept between messages
type Draft struct {
	Step           Step          `json:"step"`
	PublishAtLocal string        `json:"publish_at,omitempty"`
	RemindOffset   time.Duration `json:"remind_offset,omitempty"`
	AutoPublish    bool          `json:"auto_publish,omitempty"`
}

// SessionBackend is the key-value part of the coordinator used for sessions
type SessionBackend interface {
	Key(parts ...string) string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SessionStore keeps drafts under fsm:<chat_id>:<user_id>. It also tells
// the initiator lock whether a holder is idle.
type SessionStore struct {
	backend SessionBackend
	ttl     time.Duration
}

func NewSessionStore(backend SessionBackend, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{backend: backend, ttl: ttl}
}

func (s *SessionStore) key(chatID, userID int64) string {
	return s.backend.Key("fsm", strconv.FormatInt(chatID, 10), strconv.FormatInt(userID, 10))
}

// Load returns the stored draft, or an idle one when nothing is stored
func (s *SessionStore) Load(ctx context.Context, chatID, userID int64) (Draft, error) {
	raw, ok, err := s.backend.Get(ctx, s.key(chatID, userID))
	if err != nil || !ok {
		return Draft{}, err
	}
	var d Draft
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Draft{}, fmt.Errorf("decode session %d:%d: %w", chatID, userID, err)
	}
	return d, nil
}

func (s *SessionStore) Save(ctx context.Context, chatID, userID int64, d Draft) error {
	if d.Step == StepIdle {
		return s.Reset(ctx, chatID, userID)
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, s.key(chatID, userID), string(raw), s.ttl)
}

func (s *SessionStore) Reset(ctx context.Context, chatID, userID int64) error {
	return s.backend.Delete(ctx, s.key(chatID, userID))
}

// IsIdle implements initiator.SessionInspector
func (s *SessionStore) IsIdle(ctx context.Context, chatID, userID int64) (bool, error) {
	d, err := s.Load(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return d.Step == StepIdle, nil
}
