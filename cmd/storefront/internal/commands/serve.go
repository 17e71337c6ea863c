package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/storefront/internal/server"
	"github.com/wolfeidau/storefront/internal/state"
)

type ServeCmd struct {
	Listen      string   `help:"HTTP server listen address" default:"localhost:8080" env:"STOREFRONT_LISTEN"`
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:5173" env:"STOREFRONT_CORS_ORIGINS"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := state.NewRecorder(50)
	a, err := globals.setup(ctx, state.Multi{recorder, state.LogNotifier{}})
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	srv := server.NewServer(a.controller, a.fetcher, recorder, server.Config{CORSOrigins: s.CORSOrigins})
	httpServer := configureHTTPServer(s.Listen, srv.Handler(a.log))

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", s.Listen).Msg("Starting HTTP server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
