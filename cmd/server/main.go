package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

var (
	addr     = flag.String("addr", ":8080", "http service address")
	logLevel = flag.String("log-level", "info", "Log level")

	authUsername = flag.String("api-username", "admin", "Username for API endpoint")
	authPassword = flag.String("api-password", "", "Password for API endpoint")
	authToken    = flag.String("api-token", "", "Bearer token for authentication")
)

func main() {
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", err)
	}
	logrus.SetLevel(level)

	relay := NewRelay(AuthConfig{
		Username: *authUsername,
		Password: *authPassword,
		Token:    *authToken,
	})

	server := &http.Server{
		Addr:              *addr,
		Handler:           relay.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()

		if err := relay.Close(); err != nil {
			logrus.Errorf("Failed to close sessions: %s", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shutdown HTTP server: %s", err)
		}
	}()

	logrus.Infof("Listening on: %s", *addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("Failed to listen and serve: %s", err)
	}
}
