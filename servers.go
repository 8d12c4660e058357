package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/config"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/directory"
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manages the saved server directory",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists saved servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(repo directory.Repository) error {
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tUSER\tHOST\tPORT")
			for _, s := range repo.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.Name, s.Username, s.Host, s.Port)
			}
			return tw.Flush()
		})
	},
}

var addPort int

var serversAddCmd = &cobra.Command{
	Use:   "add <name> <user@host>",
	Short: "Adds or replaces a saved server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, host, err := splitUserHost(args[1])
		if err != nil {
			return err
		}
		return withDirectory(func(repo directory.Repository) error {
			if err := repo.Put(directory.Server{Name: args[0], Host: host, Port: addPort, Username: user}); err != nil {
				return err
			}
			if err := repo.Save(); err != nil {
				return err
			}
			fmt.Printf("Server '%s' saved.\n", args[0])
			return nil
		})
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Removes a saved server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDirectory(func(repo directory.Repository) error {
			if err := repo.Remove(args[0]); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if err := repo.Save(); err != nil {
				return err
			}
			fmt.Printf("Server '%s' removed.\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serversCmd)
	serversCmd.AddCommand(serversListCmd, serversAddCmd, serversRemoveCmd)
	serversAddCmd.Flags().IntVarP(&addPort, "port", "p", 22, "SSH port")
}

func withDirectory(fn func(repo directory.Repository) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	_, repo, closeStores, err := openStores(cfg, logger.Silent)
	if err != nil {
		return err
	}
	defer closeStores()
	return fn(repo)
}

func splitUserHost(s string) (user, host string, err error) {
	i := strings.LastIndex(s, "@")
	if i > 0 {
		user, host = s[:i], s[i+1:]
	}
	if user == "" || host == "" {
		return "", "", fmt.Errorf("expected user@host, got %q", s)
	}
	return user, host, nil
}
