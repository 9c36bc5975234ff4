package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"mtl_platform/config"
	"mtl_platform/registry"
	"mtl_platform/storage"
	"mtl_platform/utils/logging"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 3041, "Port to run server on")
	printToken := flag.Bool("print_token", false, "Print a token for the mutating routes, valid for 24 hours, and exit")

	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			return err
		}
	}
	env, err := config.LoadRegistryEnv()
	if err != nil {
		return err
	}

	var logWriter io.Writer
	if env.LogFile != "" {
		logFile, err := os.OpenFile(env.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
		if err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}
		defer logFile.Close()
		logWriter = logFile
	}
	logging.InitLogging(logWriter, env.LogLevel, slog.String("service", "dataset_registry"))

	db, err := registry.OpenDb(env.RegistryDb)
	if err != nil {
		return err
	}

	reg := registry.New(db, storage.NewSharedDisk(env.DataRoot), []byte(env.JwtSecret))

	if *printToken {
		token, err := reg.IssueToken("admin", 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{env.IngressHostname},
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", reg.Routes())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: r,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutdown signal received", "code", logging.SYSTEM)
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("http server shutdown", "code", logging.SYSTEM, "error", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("starting server", "code", logging.SYSTEM, "port", *port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve returned error: %w", err)
	}

	<-idleConnsClosed
	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
