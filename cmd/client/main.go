package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"

	"github.com/stv0g/pion-perfect-negotation/internal/config"
	"github.com/stv0g/pion-perfect-negotation/pkg/signaling"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(2)
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)

	u, _ := cfg.SessionURL()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	sc := signaling.NewClient(u)
	c := NewClient(ctx, cfg, sc)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = sc.Connect(connectCtx)
	cancel()
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	pterm.Info.Printfln("Joined session %s at %s", cfg.Session, cfg.URL)

	// Block until signal is received or the relay hangs up
	select {
	case <-ctx.Done():
	case <-sc.Done():
		pterm.Warning.Println("Signaling connection lost")
	}

	c.Close()

	if err := sc.Close(); err != nil {
		logrus.Errorf("Failed to close signaling client: %s", err)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.Infof("Serving metrics on: %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Errorf("Failed to serve metrics: %s", err)
	}
}
