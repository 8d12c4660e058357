package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/config"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/database"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/directory"
)

var rootCmd = &cobra.Command{
	Use:   "simplessh",
	Short: "SimpleSSH - interactive SSH sessions over HTTP",
	Long: `SimpleSSH keeps a directory of SSH servers and runs interactive
shell sessions against them. Sessions are driven through an HTTP API and
their output is streamed over WebSockets.

Configuration is read from SIMPLESSH_* environment variables.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openStores opens the database and the configured server directory and
// loads it. The returned cleanup closes the database.
func openStores(cfg config.Settings, logLevel logger.LogLevel) (*gorm.DB, directory.Repository, func(), error) {
	db, err := database.Open(cfg.DatabasePath, logLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("database init: %w", err)
	}
	cleanup := func() {
		if err := database.Close(db); err != nil {
			log.Printf("Database close: %v", err)
		}
	}

	var repo directory.Repository
	switch cfg.DirectoryBackend {
	case config.BackendFile:
		repo = directory.NewFileRepository(cfg.DirectoryFile)
	default:
		repo = directory.NewDBRepository(db)
	}
	if err := repo.Load(); err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("load server directory: %w", err)
	}
	return db, repo, cleanup, nil
}
