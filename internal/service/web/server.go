package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Server: HTTP-сервер чата. Start не блокирует, Run блокирует до отмены контекста.
type Server struct {
	bindAddr string
	srv      *http.Server
	logger   *zap.SugaredLogger
	running  atomic.Bool
	addr     atomic.Value // фактический адрес после Listen
	errCh    chan error
}

func NewServer(bindAddr string, handler http.Handler, logger *zap.SugaredLogger) *Server {
	if bindAddr == "" {
		bindAddr = "127.0.0.1:8080"
	}
	return &Server{
		bindAddr: bindAddr,
		logger:   logger,
		errCh:    make(chan error, 1),
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			// WriteTimeout не задан: ответ ассистента ограничен таймаутом run
			IdleTimeout: 60 * time.Second,
		},
	}
}

// Start занимает порт и обслуживает запросы в отдельной горутине.
// Отмена ctx останавливает сервер.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.addr.Store(ln.Addr().String())

	go func() {
		s.logger.Infow("Chat server listening", "addr", s.Addr())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Chat server stopped with error", "error", err)
			s.errCh <- err
		} else {
			s.logger.Infow("Chat server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

// Run запускает сервер и ждёт отмены ctx или ошибки обслуживания.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return s.Stop(context.WithoutCancel(ctx))
	case err := <-s.errCh:
		return err
	}
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("chat server shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

// Addr возвращает адрес, на котором слушает сервер (до Start: настроенный).
func (s *Server) Addr() string {
	if v, ok := s.addr.Load().(string); ok {
		return v
	}
	return s.bindAddr
}
