// Package api exposes the coordinator over HTTP and accepts solver
// connections over websockets.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/bpolania/DeltaNEAR-sub000/internal/auction"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/protocol"
	"github.com/bpolania/DeltaNEAR-sub000/internal/registry"
	"github.com/bpolania/DeltaNEAR-sub000/internal/status"
)

// MaxIntentBytes bounds a submitted intent body.
const MaxIntentBytes = 64 << 10

// Auctions is the coordinator surface the API drives.
type Auctions interface {
	Submit(ctx context.Context, raw []byte) (auction.SubmitResult, error)
	RequestQuotes(ctx context.Context, hash intent.Hash) (auction.RequestResult, error)
	Accept(ctx context.Context, req auction.AcceptRequest) (auction.AcceptResult, error)
	SubmitQuote(ctx context.Context, solverID string, q protocol.Quote) error
	ReportExecution(ctx context.Context, solverID string, res protocol.ExecutionResult) error
	SolverDisconnected(id string) []intent.Hash
}

// Receipts projects intent status.
type Receipts interface {
	Project(ctx context.Context, hash intent.Hash) (status.Receipt, error)
}

// Solvers is the registry surface the gateway drives.
type Solvers interface {
	Register(id string, caps registry.Capabilities, conn registry.Conn) error
	Heartbeat(id string) error
	RemoveConn(id string, conn registry.Conn) bool
	Len() int
}

// Server routes HTTP requests and solver websockets.
type Server struct {
	auctions Auctions
	receipts Receipts
	solvers  Solvers
	router   *mux.Router
	logger   *slog.Logger

	corsOrigins  []string
	pingInterval time.Duration
	sessionIDs   func() string
	catalogHash  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORSOrigins sets the allowed browser origins. Default: any.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithPingInterval sets the websocket keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithSessionIDs sets the websocket session id generator.
func WithSessionIDs(f func() string) Option {
	return func(s *Server) { s.sessionIDs = f }
}

// WithCatalogHash reports the digest of the loaded catalog on /version.
func WithCatalogHash(h string) Option {
	return func(s *Server) { s.catalogHash = h }
}

// NewServer wires the routes.
func NewServer(auctions Auctions, receipts Receipts, solvers Solvers, opts ...Option) *Server {
	s := &Server{
		auctions:     auctions,
		receipts:     receipts,
		solvers:      solvers,
		router:       mux.NewRouter(),
		logger:       slog.Default(),
		corsOrigins:  []string{"*"},
		pingInterval: 30 * time.Second,
		sessionIDs:   newSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/intents", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/intents/{hash}", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/intents/{hash}/quotes", s.handleRequestQuotes).Methods(http.MethodPost)
	v1.HandleFunc("/intents/{hash}/accept", s.handleAccept).Methods(http.MethodPost)
	v1.HandleFunc("/solvers/ws", s.handleSolverSocket).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Serve runs an HTTP server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		s.logger.Info("http server stopping")
		return srv.Shutdown(shutdownCtx)
	}
}
