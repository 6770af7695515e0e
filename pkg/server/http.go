package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"grc-license-controlplane/pkg/config"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewHttpServer),
	fx.Invoke(Run),
)

// Server serves the gin engine, optionally over TLS with a certificate that
// is swapped in place when the files on disk change.
type Server struct {
	server *http.Server

	mu       sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string

	stopWatch context.CancelFunc
	addr      net.Addr
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		certPath:  cfg.TLS.CertPath,
		keyPath:   cfg.TLS.KeyPath,
		stopWatch: func() {},
	}

	if !cfg.TLS.Enable {
		return srv, nil
	}

	if err := srv.loadCert(); err != nil {
		return nil, fmt.Errorf("load tls certificate: %w", err)
	}
	srv.server.TLSConfig = &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: srv.getCertificate,
	}
	return srv, nil
}

func (s *Server) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cert == nil {
		return nil, errors.New("no TLS cert loaded")
	}
	return s.cert, nil
}

func (s *Server) loadCert() error {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cert = &cert
	s.mu.Unlock()
	return nil
}

// watchTLSFiles reloads the certificate whenever the cert or key changes on
// disk. A failed reload keeps serving the previous certificate.
func (s *Server) watchTLSFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, path := range []string{s.certPath, s.keyPath} {
		if err := watcher.Add(path); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := s.loadCert(); err != nil {
					zap.L().Error("failed to reload TLS cert", zap.Error(err))
					continue
				}
				zap.L().Info("TLS certificate reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zap.L().Error("tls watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Start binds the listener synchronously so address errors fail startup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}

	s.addr = ln.Addr()

	if s.server.TLSConfig != nil {
		ctx, cancel := context.WithCancel(context.Background())
		if err := s.watchTLSFiles(ctx); err != nil {
			zap.L().Warn("tls hot reload disabled", zap.Error(err))
		}
		s.stopWatch = cancel
		ln = tls.NewListener(ln, s.server.TLSConfig)
	}

	zap.L().Info("Starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.Bool("tls", s.server.TLSConfig != nil),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stopWatch()
	zap.L().Info("Shutting down HTTP server gracefully...")
	return s.server.Shutdown(ctx)
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: srv.Shutdown,
	})
}
