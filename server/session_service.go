package server

import (
	"context"
	"fmt"
	"time"

	"connectrpc.com/connect"
)

// SessionService runs programs interactively, one output line per exchange.
type SessionService struct {
	sessions *SessionStore
	wait     time.Duration
}

// NewSessionService creates a SessionService. wait bounds how long an
// exchange waits for the next output line.
func NewSessionService(sessions *SessionStore, wait time.Duration) *SessionService {
	return &SessionService{sessions: sessions, wait: wait}
}

// Start launches a program and returns its first output line.
func (s *SessionService) Start(
	ctx context.Context,
	req *connect.Request[StartRequest],
) (*connect.Response[StartResponse], error) {
	code, err := DecodeHex(req.Msg.Bytecode)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("bytecode: %w", err))
	}

	session := s.sessions.Create(code)
	session.mu.Lock()
	defer session.mu.Unlock()

	line, finished := s.next(ctx, session)
	return connect.NewResponse(&StartResponse{
		SessionID: session.ID,
		Output:    line,
		Finished:  finished,
	}), nil
}

// Communicate sends one input line and returns the next output line.
func (s *SessionService) Communicate(
	ctx context.Context,
	req *connect.Request[CommunicateRequest],
) (*connect.Response[CommunicateResponse], error) {
	session, err := s.lookup(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	session.Send(req.Msg.Line)
	line, finished := s.next(ctx, session)
	resp := &CommunicateResponse{Output: line, Finished: finished}
	if finished {
		resp.ExitCode, resp.Error = outcome(session.Err())
	}
	return connect.NewResponse(resp), nil
}

// Stop ends a session.
func (s *SessionService) Stop(
	ctx context.Context,
	req *connect.Request[StopRequest],
) (*connect.Response[StopResponse], error) {
	if _, err := s.lookup(req.Msg.SessionID); err != nil {
		return nil, err
	}
	s.sessions.Destroy(req.Msg.SessionID)
	return connect.NewResponse(&StopResponse{}), nil
}

func (s *SessionService) lookup(id string) (*Session, error) {
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

// next waits for the session's next output line. The caller holds session.mu.
func (s *SessionService) next(ctx context.Context, session *Session) (string, bool) {
	session.touch()
	if s.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.wait)
		defer cancel()
	}
	return session.Next(ctx)
}
