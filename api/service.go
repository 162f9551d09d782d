// Package api exposes the router over Connect RPC. Procedures speak
// plain JSON bodies; POST with Content-Type application/json works from
// curl as well as from generated Connect clients.
package api

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/workspace-agents/orchestrator/router"
)

// Procedure paths for the orchestrator service.
const (
	AskProcedure     = "/orchestrator.v1.OrchestratorService/Ask"
	ApproveProcedure = "/orchestrator.v1.OrchestratorService/Approve"
	StatsProcedure   = "/orchestrator.v1.OrchestratorService/Stats"
	ClearProcedure   = "/orchestrator.v1.OrchestratorService/Clear"
)

// Service binds the router and the session store to the RPC surface.
type Service struct {
	router   *router.Router
	sessions *SessionStore
}

// NewService creates the RPC service for a router.
func NewService(r *router.Router) *Service {
	return &Service{
		router:   r,
		sessions: NewSessionStore(),
	}
}

// Sessions exposes the store, mainly for the stats surface and tests.
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// Handler mounts every procedure on a fresh mux.
func (s *Service) Handler() http.Handler {
	codec := connect.WithCodec(jsonCodec{})

	mux := http.NewServeMux()
	mux.Handle(AskProcedure, connect.NewUnaryHandler(AskProcedure, s.ask, codec))
	mux.Handle(ApproveProcedure, connect.NewUnaryHandler(ApproveProcedure, s.approve, codec))
	mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, s.stats, codec))
	mux.Handle(ClearProcedure, connect.NewUnaryHandler(ClearProcedure, s.clear, codec))
	return mux
}

func (s *Service) ask(ctx context.Context, req *connect.Request[AskRequest]) (*connect.Response[AskResponse], error) {
	if req.Msg.Text == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("text is required"))
	}

	sess, err := s.sessions.GetOrCreate(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	resp, err := s.router.HandleRequest(ctx, sess, req.Msg.Text)
	if err != nil {
		return nil, asConnectError(err)
	}

	return connect.NewResponse(fromFinal(sess.ID(), resp)), nil
}

func (s *Service) approve(ctx context.Context, req *connect.Request[ApproveRequest]) (*connect.Response[AskResponse], error) {
	sess, err := s.sessions.Get(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	resp, err := s.router.ResolveApproval(ctx, sess, req.Msg.ApprovalID, req.Msg.Approve)
	if err != nil {
		return nil, asConnectError(err)
	}

	return connect.NewResponse(fromFinal(sess.ID(), resp)), nil
}

func (s *Service) stats(ctx context.Context, req *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	sess, err := s.sessions.Get(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	return connect.NewResponse(&StatsResponse{
		SessionID:  sess.ID(),
		Session:    sess.Snapshot(),
		RateLimits: fromUsage(s.router.Guard().Limiter().Snapshot()),
	}), nil
}

func (s *Service) clear(ctx context.Context, req *connect.Request[ClearRequest]) (*connect.Response[ClearResponse], error) {
	sess, err := s.sessions.Get(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	sess.Clear()
	return connect.NewResponse(&ClearResponse{SessionID: sess.ID()}), nil
}

// asConnectError maps router sentinels onto RPC codes.
func asConnectError(err error) *connect.Error {
	switch {
	case errors.Is(err, router.ErrApprovalPending):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, router.ErrSessionBusy):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, router.ErrNoPendingApproval):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, router.ErrUnknownApproval):
		return connect.NewError(connect.CodeNotFound, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
