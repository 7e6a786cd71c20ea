// Package app wires the receiver and the development signaling relay into
// runnable processes with logging and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
)

const shutdownGrace = 20 * time.Second

func InitLogger(env core.Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	zerolog.SetGlobalLevel(env.LogLevel())
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-quit:
			log.Warn().Msg("received signal to terminate")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(quit)
	}()

	return ctx, cancel
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// serve runs the server until ctx is done, then shuts it down gracefully. A
// listen failure cancels the application through fail.
func serve(ctx context.Context, server *http.Server, fail context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("address", server.Addr).Msg("server has been closed immediately")
			fail()
		}
	}()

	go func() {
		defer close(done)
		<-ctx.Done()
		log.Warn().Str("address", server.Addr).Msg("the server is going shutting down")

		// Wait for close http connections
		waitIdleConnCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(waitIdleConnCtx); err != nil {
			log.Error().Err(err).Msg("can't gracefully shutdown the server")
		}
	}()

	return done
}
