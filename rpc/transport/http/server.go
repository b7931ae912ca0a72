package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/net/netutil"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var Logger = logger.GetLogger("transport/rpc")

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	mu     sync.Mutex
	server *http.Server
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) Listen(config common.ServerConfig, handler http.Handler) error {
	// Wrap handler with the access log
	if config.LogLevel == "debug" {
		handler = loggerMiddleware(handler)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(config.TimeoutSecond) * time.Second,
	}

	listener, err := net.Listen("tcp", config.Self())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", config.Self(), err)
	}
	if config.MaxConns > 0 {
		listener = netutil.LimitListener(listener, config.MaxConns)
	}

	if !config.Plaintext {
		tlsConfig, err := ServerTLSConfig(config.TLSDir)
		if err != nil {
			_ = listener.Close()
			return err
		}
		server.TLSConfig = tlsConfig
		listener = tls.NewListener(listener, tlsConfig)
	}

	t.mu.Lock()
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s", config.Scheme(), config.Self())
	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *httpServerTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// DefaultTLSDir returns the tls directory next to the running executable
func DefaultTLSDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "tls"
	}
	return filepath.Join(filepath.Dir(exe), "tls")
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		duration := time.Since(start)
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, duration)
	})
}
