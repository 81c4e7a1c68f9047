// Package gate authenticates dashboard connections before they join the registry
// and then answers their snapshot requests until they go idle.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/dashpulse/internal/adapter/metrics"
	"github.com/pscheid92/dashpulse/internal/broadcast"
	"github.com/pscheid92/dashpulse/internal/domain"
	"github.com/pscheid92/dashpulse/internal/platform/correlation"
)

// Close codes used by the handshake.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// Close reasons visible to clients.
const (
	ReasonAuthTimeout  = "Authentication timeout"
	ReasonAuthExpected = `Send {"type": "auth", "token": "..."}`
	ReasonNoToken      = "No token provided"
	ReasonAuthFailed   = "Authentication failed"
	ReasonIdleTimeout  = "Idle timeout"
)

const (
	DefaultAuthTimeout = 30 * time.Second
	DefaultIdleTimeout = 30 * time.Second

	actionGetStats  = "get_stats"
	messageTypeAuth = "auth"
)

// Socket is a transport that can also read client frames with a deadline.
type Socket interface {
	broadcast.Transport
	Receive(timeout time.Duration) ([]byte, error)
}

// StatsSource serves snapshot requests.
type StatsSource interface {
	Stats(ctx context.Context) (domain.Snapshot, error)
}

// Registrar is the part of the registry the gate hands authenticated sockets to.
type Registrar interface {
	Connect(transport broadcast.Transport, identity string) *broadcast.Connection
	Disconnect(conn *broadcast.Connection) bool
}

type Outcome int

const (
	OutcomeAuthenticated Outcome = iota
	OutcomeMissingCredential
	OutcomeTimeout
	OutcomeInvalidCredential
	OutcomeClientGone
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeMissingCredential:
		return "missing_credential"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeInvalidCredential:
		return "invalid_credential"
	case OutcomeClientGone:
		return "client_gone"
	default:
		return "unknown"
	}
}

// Err maps a rejected handshake to its domain error; nil otherwise.
func (o Outcome) Err() error {
	switch o {
	case OutcomeTimeout:
		return domain.ErrAuthTimeout
	case OutcomeMissingCredential:
		return domain.ErrAuthMissing
	case OutcomeInvalidCredential:
		return domain.ErrAuthInvalid
	default:
		return nil
	}
}

type Config struct {
	AuthTimeout time.Duration
	IdleTimeout time.Duration
}

type Gate struct {
	verifier domain.CredentialVerifier
	registry Registrar
	stats    StatsSource
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	cfg      Config
}

func New(verifier domain.CredentialVerifier, registry Registrar, stats StatsSource, clock clockwork.Clock, m *metrics.WebSocketMetrics, cfg Config) *Gate {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	return &Gate{verifier: verifier, registry: registry, stats: stats, clock: clock, metrics: m, cfg: cfg}
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type clientRequest struct {
	Action string `json:"action"`
}

type authFailure struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type errorReply struct {
	Error string `json:"error"`
}

// Serve runs the whole lifetime of one upgraded socket. It returns once the
// socket is closed, reporting how the handshake ended.
func (g *Gate) Serve(ctx context.Context, sock Socket) Outcome {
	ctx = correlation.Ensure(ctx)

	identity, outcome := g.authenticate(ctx, sock)
	g.metrics.Handshakes.WithLabelValues(outcome.String()).Inc()
	if outcome != OutcomeAuthenticated {
		slog.DebugContext(ctx, "Handshake rejected", "outcome", outcome.String(), "error", outcome.Err())
		return outcome
	}

	ctx = correlation.WithIdentity(ctx, identity)
	conn := g.registry.Connect(sock, identity)
	defer g.registry.Disconnect(conn)

	slog.DebugContext(ctx, "Dashboard client authenticated", "connection_id", conn.ID)
	g.session(ctx, conn, sock)
	return OutcomeAuthenticated
}

func (g *Gate) authenticate(ctx context.Context, sock Socket) (string, Outcome) {
	data, err := sock.Receive(g.cfg.AuthTimeout)
	if errors.Is(err, domain.ErrReceiveTimeout) {
		g.reject(ctx, sock, errorReply{Error: ReasonAuthTimeout}, ReasonAuthTimeout)
		return "", OutcomeTimeout
	}
	if err != nil {
		_ = sock.Close()
		return "", OutcomeClientGone
	}

	var msg authMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != messageTypeAuth {
		g.reject(ctx, sock, errorReply{Error: "Authentication required"}, ReasonAuthExpected)
		return "", OutcomeMissingCredential
	}
	if msg.Token == "" {
		g.reject(ctx, sock, errorReply{Error: "Token required"}, ReasonNoToken)
		return "", OutcomeMissingCredential
	}

	identity, err := g.verifier.Verify(msg.Token)
	if err != nil {
		slog.DebugContext(ctx, "Credential rejected", "error", err)
		g.reject(ctx, sock, authFailure{Status: "auth_failed", Reason: "Invalid token"}, ReasonAuthFailed)
		return "", OutcomeInvalidCredential
	}

	return identity, OutcomeAuthenticated
}

// reject sends a best-effort error object, then closes with a policy violation.
func (g *Gate) reject(ctx context.Context, sock Socket, reply any, reason string) {
	if data, err := json.Marshal(reply); err == nil {
		if err := sock.Send(data); err != nil {
			slog.DebugContext(ctx, "Failed to send rejection", "error", err)
		}
	}
	if err := sock.CloseWithReason(ClosePolicyViolation, reason); err != nil {
		slog.DebugContext(ctx, "Failed to close rejected socket", "error", err)
	}
}

// session pushes the first snapshot and then answers get_stats requests until
// the client goes quiet for IdleTimeout or the socket breaks.
func (g *Gate) session(ctx context.Context, conn *broadcast.Connection, sock Socket) {
	if !g.pushStats(ctx, conn) {
		return
	}

	for {
		data, err := sock.Receive(g.cfg.IdleTimeout)
		if errors.Is(err, domain.ErrReceiveTimeout) {
			slog.DebugContext(ctx, "Dashboard client idle, closing", "connection_id", conn.ID)
			_ = conn.CloseWithReason(CloseNormal, ReasonIdleTimeout)
			return
		}
		if err != nil {
			return
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			slog.DebugContext(ctx, "Ignoring malformed client frame", "connection_id", conn.ID)
			continue
		}
		if req.Action == actionGetStats && !g.pushStats(ctx, conn) {
			return
		}
	}
}

// pushStats answers only the requesting connection. It reports false when the
// connection can no longer be written to.
func (g *Gate) pushStats(ctx context.Context, conn *broadcast.Connection) bool {
	var (
		frame []byte
		err   error
	)

	snap, statsErr := g.stats.Stats(ctx)
	if statsErr != nil {
		slog.WarnContext(ctx, "Snapshot unavailable for dashboard client", "error", statsErr)
		frame, err = json.Marshal(errorReply{Error: "Stats unavailable"})
	} else {
		frame, err = broadcast.StatsFrame(snap, g.clock.Now())
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode stats frame", "error", err)
		return true
	}

	if err := conn.Send(frame); err != nil {
		slog.DebugContext(ctx, "Stats send failed", "connection_id", conn.ID, "error", err)
		return false
	}
	return true
}
