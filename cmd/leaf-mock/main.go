package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nuwan94/leaf/internal/mockapi"
	"github.com/nuwan94/leaf/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		logger.Errorf("leaf-mock: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("leaf-mock", flag.ContinueOnError)
	addr := fs.String("addr", ":8000", "listen address")
	secret := fs.String("secret", os.Getenv("LEAF_MOCK_SECRET"), "JWT signing secret (random when empty)")
	accessTTL := fs.Duration("access-ttl", mockapi.DefaultAccessTTL, "access token lifetime")
	refreshTTL := fs.Duration("refresh-ttl", mockapi.DefaultRefreshTTL, "refresh token lifetime")
	origins := fs.String("origins", "", "comma separated CORS origins")
	seed := fs.Bool("seed", true, "load demo users and products")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *debug {
		logger.SetLevel(logger.LevelDebug)
	}

	srv := mockapi.New(mockapi.Options{
		Secret:         *secret,
		AccessTTL:      *accessTTL,
		RefreshTTL:     *refreshTTL,
		AllowedOrigins: splitList(*origins),
		Debug:          *debug,
	})
	if *seed {
		users, err := srv.Seed()
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		for role, u := range users {
			logger.Infof("Seeded %s account %s (password: password)", role, u.Email)
		}
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Leaf mock API listening on http://localhost%s/api", *addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
