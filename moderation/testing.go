package moderation

import (
	"context"
	"sync"
	"time"
)

// FakeOracle is an in-memory ChatMembershipOracle keyed by "chat/user".
type FakeOracle struct {
	mu       sync.Mutex
	creators map[string]bool
	Err      error
}

func NewFakeOracle() *FakeOracle {
	return &FakeOracle{creators: make(map[string]bool)}
}

func (o *FakeOracle) SetCreator(chatID, userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creators[chatID+"/"+userID] = true
}

func (o *FakeOracle) IsCreator(_ context.Context, chatID, userID string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return false, o.Err
	}
	return o.creators[chatID+"/"+userID], nil
}

// EnforcerCall is one recorded RestrictionEnforcer invocation.
type EnforcerCall struct {
	Op     string
	ChatID string
	UserID string
	Until  *time.Time
}

// RecordingEnforcer records every call. Errs maps an op name to the error
// that op should return.
type RecordingEnforcer struct {
	mu    sync.Mutex
	calls []EnforcerCall
	Errs  map[string]error
}

func (e *RecordingEnforcer) record(op, chatID, userID string, until *time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, EnforcerCall{Op: op, ChatID: chatID, UserID: userID, Until: until})
	return e.Errs[op]
}

func (e *RecordingEnforcer) Restrict(_ context.Context, chatID, userID string, until *time.Time) error {
	return e.record("restrict", chatID, userID, until)
}

func (e *RecordingEnforcer) LiftRestriction(_ context.Context, chatID, userID string) error {
	return e.record("lift_restriction", chatID, userID, nil)
}

func (e *RecordingEnforcer) Exclude(_ context.Context, chatID, userID string, until *time.Time) error {
	return e.record("exclude", chatID, userID, until)
}

func (e *RecordingEnforcer) UnExclude(_ context.Context, chatID, userID string) error {
	return e.record("un_exclude", chatID, userID, nil)
}

// Calls returns a copy of the recorded calls.
func (e *RecordingEnforcer) Calls() []EnforcerCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EnforcerCall(nil), e.calls...)
}

// Ops returns the op names in call order.
func (e *RecordingEnforcer) Ops() []string {
	var ops []string
	for _, c := range e.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

// Count returns how many times op was called.
func (e *RecordingEnforcer) Count(op string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Notification is one recorded NotificationSink message.
type Notification struct {
	ChatID string
	UserID string
	Text   string
}

type RecordingSink struct {
	mu   sync.Mutex
	chat []Notification
	user []Notification
	Err  error
}

func (s *RecordingSink) NotifyChat(_ context.Context, chatID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat = append(s.chat, Notification{ChatID: chatID, Text: text})
	return s.Err
}

func (s *RecordingSink) NotifyUser(_ context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = append(s.user, Notification{UserID: userID, Text: text})
	return s.Err
}

func (s *RecordingSink) ChatMessages() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.chat...)
}

func (s *RecordingSink) UserMessages() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.user...)
}
