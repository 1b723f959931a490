package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mixing-db/mixing/internal/config"
	"github.com/mixing-db/mixing/internal/es"
)

var esCmd = &cobra.Command{
	Use:   "es",
	Short: "Search index maintenance",
}

func init() {
	esCmd.AddCommand(esCreateIndexCmd)
	esCmd.AddCommand(esMoveAliasCmd)
	esCmd.AddCommand(esIndicesCmd)
	esCmd.AddCommand(esRefreshCmd)
	esCmd.AddCommand(esReindexCmd)
}

// esClient loads the configuration and builds the low-level client used
// by all maintenance commands.
func esClient() (*es.LowLevelClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewLowLevelClient(cfg.Elastic.Host, log,
		es.WithSlowThreshold(time.Duration(cfg.Elastic.SlowThresholdMS)*time.Millisecond)), nil
}

var esCreateIndexCmd = &cobra.Command{
	Use:   "create-index <index>",
	Short: "Create a search index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := esClient()
		if err != nil {
			return err
		}
		if err := client.CreateIndex(context.Background(), args[0], map[string]interface{}{}); err != nil {
			return err
		}
		fmt.Printf("Created index %s\n", args[0])
		return nil
	},
}

var esMoveAliasCmd = &cobra.Command{
	Use:   "move-alias <alias> <destination-index>",
	Short: "Atomically repoint an alias to another index",
	Long: `Repoints the alias from its single current backing index to the given
destination in one atomic step. The move is refused if the alias is
currently backed by more or fewer than one index.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := esClient()
		if err != nil {
			return err
		}
		previous, err := client.MoveActiveAlias(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Moved alias %s: %s -> %s\n", args[0], previous, args[1])
		return nil
	},
}

var esIndicesCmd = &cobra.Command{
	Use:   "indices <alias>",
	Short: "List the indices backing an alias",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := esClient()
		if err != nil {
			return err
		}
		indices, err := client.IndicesForAlias(context.Background(), args[0])
		if err != nil {
			return err
		}
		if len(indices) == 0 {
			fmt.Printf("No indices behind alias %s\n", args[0])
			return nil
		}
		for _, index := range indices {
			fmt.Println(index)
		}
		return nil
	},
}

var esRefreshCmd = &cobra.Command{
	Use:   "refresh <index>",
	Short: "Make pending writes visible to searches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := esClient()
		if err != nil {
			return err
		}
		return client.Refresh(context.Background(), args[0])
	},
}

var esReindexCmd = &cobra.Command{
	Use:   "reindex <source-index> <destination-index>",
	Short: "Copy all documents from one index into another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := esClient()
		if err != nil {
			return err
		}
		response, err := client.Reindex(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		if total, ok := response["total"].(float64); ok {
			fmt.Printf("Reindexed %d documents\n", int64(total))
		}
		return nil
	},
}
