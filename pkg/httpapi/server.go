package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bosworks/bos/core/pkg/command"
	"github.com/bosworks/bos/core/pkg/kernel"
	"github.com/bosworks/bos/core/pkg/observability"
	"github.com/bosworks/bos/core/pkg/reject"
)

const maxBodyBytes = 1 << 20

// DispatchRequest is the command endpoint body. business_id and branch_id
// are optional mirrors of the tenant headers.
type DispatchRequest struct {
	CommandType   string         `json:"command_type"`
	BusinessID    string         `json:"business_id,omitempty"`
	BranchID      string         `json:"branch_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// DispatchResponse answers an accepted command.
type DispatchResponse struct {
	EventID   string   `json:"event_id"`
	EventType string   `json:"event_type"`
	Result    any      `json:"result,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Server serves the command endpoint on top of the bus.
type Server struct {
	bus      *command.Bus
	resolver *Resolver
	catalog  *Catalog
	clock    kernel.Clock
	ids      kernel.IDProvider
	limiter  *EdgeLimiter
	obs      *observability.Provider
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithEdgeLimiter installs the per-IP request limiter.
func WithEdgeLimiter(l *EdgeLimiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

// WithObservability installs dispatch tracing and metrics.
func WithObservability(p *observability.Provider) ServerOption {
	return func(s *Server) { s.obs = p }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func NewServer(bus *command.Bus, auth AuthProvider, catalog *Catalog, clock kernel.Clock, ids kernel.IDProvider, opts ...ServerOption) *Server {
	s := &Server{
		bus:      bus,
		resolver: NewResolver(auth),
		catalog:  catalog,
		clock:    clock,
		ids:      ids,
		logger:   slog.Default().With("component", "httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(s.ids))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/commands", s.handleDispatch)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteRejection(w, reject.New(reject.CodeInvalidCommandStructure,
			"request body is not valid JSON", "httpapi"))
		return
	}

	binding, known := s.catalog.Lookup(req.CommandType)
	if !known {
		WriteRejection(w, reject.Newf(reject.CodeInvalidCommandType, "httpapi",
			"unknown command type %q", req.CommandType))
		return
	}

	resolved, rej := s.resolver.Resolve(r.Context(), r.Header, mirrorFields(req))
	if rej != nil {
		WriteRejection(w, *rej)
		return
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = s.ids.NewID()
	}
	cmd, err := command.New(command.Params{
		ID:            s.ids.NewID(),
		CommandType:   req.CommandType,
		BusinessID:    resolved.BusinessID,
		BranchID:      resolved.BranchID,
		ActorKind:     resolved.Actor.Kind(),
		ActorID:       resolved.Actor.ID(),
		Payload:       req.Payload,
		IssuedAt:      s.clock.Now(),
		CorrelationID: correlationID,
		SourceEngine:  strings.SplitN(req.CommandType, ".", 2)[0],
		ScopeReq:      binding.Scope,
		ActorReq:      binding.Actor,
	})
	if err != nil {
		WriteRejection(w, reject.New(reject.CodeInvalidCommandStructure,
			err.Error(), "httpapi"))
		return
	}

	ctx := r.Context()
	done := func(string, string) {}
	if s.obs != nil {
		ctx, done = s.obs.TrackDispatch(ctx, cmd.Type())
	}
	out, err := s.bus.Dispatch(ctx, cmd, resolved.Business)
	if err != nil {
		done("INTERNAL_ERROR", "")
		WriteInternal(w, s.logger, err)
		return
	}
	if !out.Accepted {
		done(string(out.Rejection.Code), out.Rejection.PolicyName)
		WriteRejection(w, *out.Rejection)
		return
	}
	done("", "")

	resp := DispatchResponse{
		EventID:   out.Event.EventID,
		EventType: out.Event.EventType,
		Warnings:  out.Warnings,
	}
	if out.Handler != nil {
		resp.Result = out.Handler.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

// mirrorFields projects the body fields the resolver's match law covers.
func mirrorFields(req DispatchRequest) map[string]any {
	m := make(map[string]any, 2)
	if req.BusinessID != "" {
		m["business_id"] = req.BusinessID
	}
	if req.BranchID != "" {
		m["branch_id"] = req.BranchID
	}
	return m
}
