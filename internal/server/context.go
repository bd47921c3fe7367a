package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tms-tools/teamcal/internal/calendar"
	"github.com/tms-tools/teamcal/internal/google"
	"github.com/tms-tools/teamcal/internal/logging"
)

// ServerContext holds the shared server state: the lifecycle context and
// the per-account Google Calendar clients, created lazily and cached.
type ServerContext struct {
	ctx             context.Context
	cancel          context.CancelFunc
	tokenProvider   google.TokenProvider
	calendarClients map[string]*calendar.Client
	logger          *slog.Logger
	mu              sync.RWMutex
	shutdown        bool
}

// NewServerContext creates a new server context. tokenProvider may be nil,
// in which case the file-based provider is used.
func NewServerContext(ctx context.Context, tokenProvider google.TokenProvider, logger *slog.Logger) *ServerContext {
	if tokenProvider == nil {
		tokenProvider = google.NewFileTokenProvider()
	}
	if logger == nil {
		logger = slog.Default()
	}
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:             shutdownCtx,
		cancel:          cancel,
		tokenProvider:   tokenProvider,
		calendarClients: make(map[string]*calendar.Client),
		logger:          logger,
	}
}

// Context returns the server lifecycle context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// CalendarClientForAccount returns the Calendar client for a specific
// account, creating and caching it on first use. Returns nil when the
// account has no token.
func (sc *ServerContext) CalendarClientForAccount(account string) *calendar.Client {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if client, ok := sc.calendarClients[account]; ok {
		return client
	}

	if !sc.tokenProvider.HasTokenForAccount(account) {
		return nil
	}

	client, err := calendar.NewClientForAccountWithProvider(sc.ctx, account, sc.tokenProvider)
	if err != nil {
		sc.logger.Warn("failed to create calendar client",
			logging.Account(account), logging.Err(err))
		return nil
	}

	sc.calendarClients[account] = client
	return client
}

// SetCalendarClientForAccount sets the Calendar client for a specific
// account, replacing a cached one.
func (sc *ServerContext) SetCalendarClientForAccount(account string, client *calendar.Client) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.calendarClients[account] = client
}

// IsShutdown returns whether the server has been shut down.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the lifecycle context. Idempotent.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
