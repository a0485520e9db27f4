// File: internal/network/proxy.go
package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/decentraleyes/loadwatcher/internal/policy"
)

// EventSink receives load events derived from proxied requests. Deliver must
// not block.
type EventSink interface {
	Deliver(ev policy.LoadEvent) error
}

// WatchProxy is a forward proxy that reports every request it relays as a load
// event. It never alters, delays or refuses the traffic it carries.
type WatchProxy struct {
	proxy       *goproxy.ProxyHttpServer
	sink        EventSink
	mitm        *goproxy.ConnectAction
	server      *http.Server
	serverMutex sync.Mutex
	logger      *zap.Logger
}

// LoadCA reads a PEM certificate and key pair used to intercept HTTPS.
func LoadCA(certPath, keyPath string) (certPEM, keyPEM []byte, err error) {
	if certPEM, err = os.ReadFile(certPath); err != nil {
		return nil, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	if keyPEM, err = os.ReadFile(keyPath); err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// NewWatchProxy creates a proxy delivering events to sink. With a CA pair,
// HTTPS is intercepted so script requests inside TLS are observed as well;
// without one, CONNECT tunnels are relayed blind.
func NewWatchProxy(sink EventSink, caCert, caKey []byte, upstream *UpstreamConfig, logger *zap.Logger) (*WatchProxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("watch_proxy")

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = NewUpstreamTransport(upstream, log)

	wp := &WatchProxy{
		proxy:  proxy,
		sink:   sink,
		logger: log,
	}

	if caCert != nil && caKey != nil {
		action, err := mitmAction(caCert, caKey)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTPS interception: %w", err)
		}
		wp.mitm = action
		log.Info("HTTPS interception enabled.")
	} else {
		log.Warn("CA certificate or key missing, HTTPS interception disabled. Only plain HTTP loads are observed.")
	}

	wp.setupHandlers()
	return wp, nil
}

// Handler returns the proxy as an http.Handler.
func (wp *WatchProxy) Handler() http.Handler {
	return wp.proxy
}

// MITMEnabled reports whether HTTPS requests are intercepted.
func (wp *WatchProxy) MITMEnabled() bool {
	return wp.mitm != nil
}

func (wp *WatchProxy) setupHandlers() {
	wp.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if wp.mitm != nil {
			return wp.mitm, host
		}
		return goproxy.OkConnect, host
	}))

	wp.proxy.OnRequest().DoFunc(wp.handleRequest)
}

// handleRequest reports the request and passes it on untouched.
func (wp *WatchProxy) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	ev := EventFromRequest(r)
	if err := wp.sink.Deliver(ev); err != nil {
		wp.logger.Debug("Load event not delivered", zap.String("url", getRequestURL(ctx)), zap.Error(err))
	}
	return r, nil
}

// Start runs the proxy server and blocks until the context is cancelled or a fatal error occurs.
func (wp *WatchProxy) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return wp.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (wp *WatchProxy) Serve(ctx context.Context, ln net.Listener) error {
	wp.serverMutex.Lock()
	if wp.server != nil {
		wp.serverMutex.Unlock()
		ln.Close()
		return errors.New("proxy server already started")
	}

	server := &http.Server{
		Handler:     wp.proxy,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		ErrorLog:    zap.NewStdLog(wp.logger.Named("http_server")),
	}
	wp.server = server
	wp.serverMutex.Unlock()

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		wp.logger.Info("Shutdown signal received, stopping watch proxy...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	wp.logger.Info("Starting watch proxy", zap.String("address", ln.Addr().String()))
	err := server.Serve(ln)

	// ErrServerClosed means a graceful shutdown; wait for its result.
	if errors.Is(err, http.ErrServerClosed) {
		err = <-shutdownErr
	}

	wp.serverMutex.Lock()
	if wp.server == server {
		wp.server = nil
	}
	wp.serverMutex.Unlock()

	if err != nil {
		wp.logger.Error("Proxy server stopped with an error", zap.Error(err))
		return fmt.Errorf("proxy server failed: %w", err)
	}

	wp.logger.Info("Watch proxy stopped gracefully.")
	return nil
}

// mitmAction builds the CONNECT action that intercepts TLS with the given CA.
// The CA is scoped to this proxy instance rather than goproxy's globals.
func mitmAction(caCert, caKey []byte) (*goproxy.ConnectAction, error) {
	ca, err := tls.X509KeyPair(caCert, caKey)
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate/key pair: %w", err)
	}
	if len(ca.Certificate) == 0 {
		return nil, errors.New("CA certificate chain is empty")
	}
	if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate leaf: %w", err)
	}
	if !ca.Leaf.IsCA {
		return nil, errors.New("certificate is not a CA")
	}
	return &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: goproxy.TLSConfigFromCA(&ca),
	}, nil
}

// getRequestURL is a helper to safely extract the request URL from the context for logging.
func getRequestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}
