// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to inspect which methods the bridge invoked and to drive the
// registered hooks from tests.
//
// Example:
//
//	sess := &mock.Session{}
//	p := &mock.Provider{Session: sess}
//	// ... hand p to the bridge, connect, then:
//	p.LastHooks().OnMessage(live.ServerEvent{TurnComplete: true})
package mock

import (
	"context"
	"sync"

	"github.com/Veri5ied/sightline/pkg/live"
)

// Compile-time assertions.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*Session)(nil)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
	// Hooks are the hooks registered for the session.
	Hooks live.Hooks
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh
	// default Session per call.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session (or a fresh default one).
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, hooks live.Hooks) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg, Hooks: hooks})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{}, nil
}

// Calls returns a snapshot of recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// LastHooks returns the hooks of the most recent Connect call. Panics when
// Connect has not been called.
func (p *Provider) LastHooks() live.Hooks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConnectCalls[len(p.ConnectCalls)-1].Hooks
}

// Session is a mock implementation of live.Session recording every call.
type Session struct {
	mu sync.Mutex

	// SendContentErr, if non-nil, is returned from SendContent.
	SendContentErr error

	// SendRealtimeErr, if non-nil, is returned from SendRealtimeInput.
	SendRealtimeErr error

	// CloseErr, if non-nil, is returned from the first Close call.
	CloseErr error

	// ContentCalls records every SendContent argument in order.
	ContentCalls []live.Turn

	// RealtimeCalls records every SendRealtimeInput argument in order.
	RealtimeCalls []live.RealtimeInput

	// CloseCount is the number of Close invocations.
	CloseCount int
}

// SendContent records the turn and returns SendContentErr.
func (s *Session) SendContent(turn live.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContentCalls = append(s.ContentCalls, turn)
	return s.SendContentErr
}

// SendRealtimeInput records the input and returns SendRealtimeErr.
func (s *Session) SendRealtimeInput(in live.RealtimeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RealtimeCalls = append(s.RealtimeCalls, in)
	return s.SendRealtimeErr
}

// Close increments CloseCount and returns CloseErr on the first call only.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.CloseCount == 1 {
		return s.CloseErr
	}
	return nil
}

// Realtime returns a snapshot of recorded realtime inputs.
func (s *Session) Realtime() []live.RealtimeInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.RealtimeInput, len(s.RealtimeCalls))
	copy(out, s.RealtimeCalls)
	return out
}

// Contents returns a snapshot of recorded content turns.
func (s *Session) Contents() []live.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]live.Turn, len(s.ContentCalls))
	copy(out, s.ContentCalls)
	return out
}

// Closes returns the number of Close invocations.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}
