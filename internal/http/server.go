package http

import (
	"context"
	"iter"
	"net/http"
	"sync"
	"time"

	"lifeledger/internal/chatbot"
	"lifeledger/internal/core"
	"lifeledger/internal/extract"
	applog "lifeledger/internal/log"
	"lifeledger/internal/middleware/ratelimit"
	"lifeledger/internal/middleware/security"
	"lifeledger/internal/middleware/trace"
)

// Extractor is the extraction use case served under /ai-assistant.
type Extractor interface {
	Process(ctx context.Context, req extract.Request) (core.ExtractionResult, error)
	ResetChat(ctx context.Context, userID string) (int, error)
	Status() extract.Status
}

// Chatbot is the conversational assistant served under /chatbot.
type Chatbot interface {
	SendMessage(ctx context.Context, userID, message string) (chatbot.Reply, error)
	SendMessageStream(ctx context.Context, userID, message string) (iter.Seq2[string, error], error)
	ResetChat(ctx context.Context, userID string) (int, error)
	Status() chatbot.Status
}

// LedgerSaver persists confirmed entries.
type LedgerSaver interface {
	SaveEntries(ctx context.Context, b core.LedgerBatch) (string, error)
}

// Options tunes request limits.
type Options struct {
	MaxUploadBytes     int64
	MaxImages          int
	RateLimitPerMinute int

	// Ready backs /readyz. Nil means always ready.
	Ready func(ctx context.Context) error

	// Chatbot serves /chatbot. Nil leaves those routes unregistered.
	Chatbot Chatbot
}

func (o Options) withDefaults() Options {
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = 20 << 20
	}
	if o.MaxImages <= 0 {
		o.MaxImages = 10
	}
	if o.RateLimitPerMinute <= 0 {
		o.RateLimitPerMinute = 30
	}
	return o
}

const (
	// maxLedgerBodyBytes bounds JSON ledger writes.
	maxLedgerBodyBytes = 1 << 20
	maxChatBodyBytes   = 64 << 10
	readyTimeout       = 3 * time.Second
)

type Server struct {
	http.Server
	extractor Extractor
	ledger    LedgerSaver
	chatbot   Chatbot
	validator *RequestValidator
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	opts      Options
	logger    *applog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. A nil ledger disables POST /ledger/entries.
func NewServer(addr string, extractor Extractor, ledger LedgerSaver, opts Options, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.Discard()
	}
	opts = opts.withDefaults()

	s := &Server{
		extractor: extractor,
		ledger:    ledger,
		chatbot:   opts.Chatbot,
		validator: NewRequestValidator(),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:  security.NewDetector(logger),
		opts:      opts,
		logger:    logger.WithComponent(applog.ComponentHTTP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /ai-assistant/process-expense", s.handleProcessExpense)
	mux.HandleFunc("POST /ai-assistant/reset", s.handleReset(extractor.ResetChat))
	mux.HandleFunc("GET /ai-assistant/health", s.handleAssistantHealth)
	if ledger != nil {
		mux.HandleFunc("POST /ledger/entries", s.handleSaveEntries)
	}
	if s.chatbot != nil {
		mux.HandleFunc("POST /chatbot/send-message", s.handleChatMessage)
		mux.HandleFunc("POST /chatbot/send-message-stream", s.handleChatStream)
		mux.HandleFunc("POST /chatbot/reset", s.handleReset(s.chatbot.ResetChat))
		mux.HandleFunc("GET /chatbot/health", s.handleChatHealth)
	}

	tracer := trace.NewMiddleware(s.detector.ExtractClientIP, logger)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(handler)
	handler = headers.Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = tracer.Middleware(handler)
	handler = applog.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
}

// Shutdown stops the rate limiter and gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
