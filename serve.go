package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/config"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/handlers"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/idle"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logging"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshaudit"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the HTTP API and the session manager",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides SIMPLESSH_LISTEN_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.ListenAddr = serveListen
	}

	logging.Init(cfg.LogPath)
	defer logging.Close()

	db, repo, closeStores, err := openStores(cfg, logger.Warn)
	if err != nil {
		return err
	}
	defer closeStores()
	log.Printf("Config: backend=%s, idle_timeout=%s, encoding=%s", cfg.DirectoryBackend, cfg.IdleTimeout, cfg.Encoding)

	hostKeys, err := sshterminal.HostKeyCallbackFromFile(cfg.KnownHostsPath)
	if err != nil {
		return fmt.Errorf("known_hosts: %w", err)
	}
	dialer := &sshterminal.SSHDialer{
		Timeout:         cfg.ConnectTimeout,
		HostKeyCallback: hostKeys,
	}

	clock := idle.NewClock()
	opts, err := sessionOptions(cfg, clock)
	if err != nil {
		return err
	}
	sessions := sshterminal.NewSessionManager(dialer, opts)

	auditor := sshaudit.NewAuditor(db, cfg.AuditRetentionDays)
	sessions.AddObserver(auditor.Observer())

	supervisor := idle.NewSupervisor(clock, sessions, cfg.IdleCheckInterval, cfg.IdleTimeout)
	supervisor.Start()
	log.Printf("Idle supervisor started (check every %s, close after %s)", cfg.IdleCheckInterval, cfg.IdleTimeout)

	// Audit retention
	auditor.PurgeOlderThan(0)
	maintenance := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := maintenance.AddFunc("@daily", func() { auditor.PurgeOlderThan(0) }); err != nil {
		return fmt.Errorf("schedule audit purge: %w", err)
	}
	maintenance.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	handlers.New(handlers.Deps{
		Sessions:       sessions,
		Directory:      repo,
		Auditor:        auditor,
		Clock:          clock,
		DB:             db,
		AllowedOrigins: cfg.AllowedOrigins,
	}).Mount(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-sigCtx.Done():
	case err := <-serveErr:
		if err != nil {
			supervisor.Stop()
			<-maintenance.Stop().Done()
			sessions.CloseAll()
			return fmt.Errorf("server error: %w", err)
		}
	}
	log.Println("Shutting down...")

	supervisor.Stop()
	<-maintenance.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if err := sessions.CloseAll(); err != nil {
		log.Printf("Session shutdown: %v", err)
	}
	log.Println("Server stopped")
	return nil
}

// sessionOptions builds the per-session options from cfg. Activity on any
// session is recorded on clock.
func sessionOptions(cfg config.Settings, clock *idle.Clock) (sshterminal.Options, error) {
	lineEnding, err := cfg.LineTerminator()
	if err != nil {
		return sshterminal.Options{}, err
	}
	return sshterminal.Options{
		PTY:               sshterminal.PTYConfig{Term: cfg.TermType, Cols: cfg.TermCols, Rows: cfg.TermRows},
		Encoding:          cfg.Encoding,
		LineEnding:        lineEnding,
		ConnectTimeout:    cfg.ConnectTimeout,
		KeepaliveInterval: cfg.KeepaliveInterval,
		ScrollbackSize:    cfg.ScrollbackBytes,
		OnActivity:        clock.Touch,
	}, nil
}
