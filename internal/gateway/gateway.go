// ABOUTME: Gateway orchestrator that builds components from config and runs the HTTP server
// ABOUTME: Manages the job router lifecycle and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatforge/wce-gateway/internal/auth"
	"github.com/chatforge/wce-gateway/internal/config"
	"github.com/chatforge/wce-gateway/internal/dedupe"
	"github.com/chatforge/wce-gateway/internal/flow"
	"github.com/chatforge/wce-gateway/internal/jobs"
	"github.com/chatforge/wce-gateway/internal/kvstore"
	"github.com/chatforge/wce-gateway/internal/livemode"
	"github.com/chatforge/wce-gateway/internal/outbound"
	"github.com/chatforge/wce-gateway/internal/session"
	"github.com/chatforge/wce-gateway/internal/ticket"
	"github.com/chatforge/wce-gateway/internal/userlock"
	"github.com/chatforge/wce-gateway/internal/webhook"
)

// Gateway orchestrates the wce-gateway server components.
type Gateway struct {
	config     *config.Config
	store      kvstore.Store
	sessions   *session.Manager
	locks      *userlock.Manager
	tickets    *ticket.SQLiteRepository
	live       *livemode.Service
	sender     outbound.Sender
	engine     flow.Engine
	tracker    *dedupe.Tracker
	executor   *jobs.QueueExecutor
	dispatcher *webhook.Dispatcher
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger
}

// Options carries optional component overrides, used by tests and by
// deployments that plug in their own engine or sender.
type Options struct {
	// Engine handles bot-mode messages. Defaults to flow.EchoEngine.
	Engine flow.Engine
	// Sender delivers outbound messages. Defaults to the WhatsApp
	// Cloud API client built from provider config.
	Sender outbound.Sender
	// InboundHandler receives live-mode messages after they are
	// recorded on the ticket.
	InboundHandler livemode.InboundHandler
}

// New builds a gateway from config. Nothing is listening until Run.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := initStore(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if envPath := os.Getenv("WCE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	tickets, err := ticket.NewSQLiteRepository(dbPath, logger.With("component", "tickets"))
	if err != nil {
		return nil, fmt.Errorf("opening ticket repository: %w", err)
	}

	sender := opts.Sender
	if sender == nil {
		sender = outbound.NewWhatsAppSender(
			cfg.Provider.APIBaseURL,
			cfg.Provider.AccessToken,
			cfg.Provider.PhoneNumberID,
			logger.With("component", "outbound"),
		)
	}

	engine := opts.Engine
	if engine == nil {
		engine = flow.NewEchoEngine(sender, logger.With("component", "engine"))
	}

	sessions := session.NewManager(store, cfg.Session.UserTTL, cfg.Session.GlobalTTL)
	locks := userlock.NewManager(store, logger.With("component", "userlock"))
	live := livemode.New(sessions, tickets, sender, opts.InboundHandler, logger)
	tracker := dedupe.NewTracker(5*time.Minute, 100_000)
	processor := webhook.NewProcessor(locks, live, engine, cfg.Lock.Lease, cfg.Lock.Wait, logger)

	executor, err := initExecutor(context.Background(), cfg, store, processor.Handle, logger)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:     cfg,
		store:      store,
		sessions:   sessions,
		locks:      locks,
		tickets:    tickets,
		live:       live,
		sender:     sender,
		engine:     engine,
		tracker:    tracker,
		executor:   executor,
		logger:     logger.With("component", "gateway"),
	}
	gw.dispatcher = webhook.NewDispatcher(
		[]byte(cfg.Provider.AppSecret), cfg.Provider.VerifyToken, tracker, executor, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", gw.handleHealth)
	mux.HandleFunc("GET /webhook", gw.dispatcher.HandleVerify)
	mux.HandleFunc("POST /webhook", gw.dispatcher.HandleInbound)

	if err := gw.registerOperatorRoutes(mux); err != nil {
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// initStore picks the key-value backend. Redis when configured, else
// the in-memory store with a warning since it is single-process only.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (kvstore.Store, error) {
	if cfg.Redis.Addr == "" {
		logger.Warn("no redis.addr configured, using in-memory state (single instance only)")
		return kvstore.NewMemoryStore(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return kvstore.NewRedisStore(ctx, client, logger.With("component", "kvstore"))
}

func initExecutor(ctx context.Context, cfg *config.Config, store kvstore.Store, handler jobs.Handler, logger *slog.Logger) (*jobs.QueueExecutor, error) {
	if cfg.Dispatch.Mode != config.DispatchRedis {
		return jobs.NewQueueExecutor(handler, logger)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return jobs.NewRedisExecutor(ctx, client, jobs.RedisOptions{
		Stream:   cfg.Dispatch.RedisStream,
		Group:    cfg.Dispatch.ConsumerGroup,
		Consumer: cfg.Dispatch.Consumer,
	}, store, handler, logger)
}

// Run starts the job router and the HTTP server, then blocks until ctx
// is cancelled or a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := g.executor.Run(ctx); err != nil {
			errCh <- fmt.Errorf("job router: %w", err)
		}
	}()

	// Jobs enqueued before the router subscribes would be lost on the
	// in-process transport.
	select {
	case <-g.executor.Running():
	case <-ctx.Done():
		return ctx.Err()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "job router close", g.executor.Close())
	errs = appendCloseError(errs, "ticket repository close", g.tickets.CloseDB())

	g.tracker.Close()
	if mem, ok := g.store.(*kvstore.MemoryStore); ok {
		mem.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
