package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mixing-db/mixing/internal/config"
	"github.com/mixing-db/mixing/internal/jdbc"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Relational backend maintenance",
}

func init() {
	dbCmd.AddCommand(dbPingCmd)
}

var dbPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify connectivity to the configured database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := jdbc.Connect(context.Background(), cfg.Database.Driver, config.GetDatabaseURL(cfg))
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Println("Database reachable")
		return nil
	},
}
