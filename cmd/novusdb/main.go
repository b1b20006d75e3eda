// Command novusdb is a diagnostic CLI for inspecting and poking at a
// NovusDB data directory: open it, get/put a key, or print engine stats.
package main

import (
	"fmt"
	"os"

	"github.com/nodb-engine/nodb/api"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:     "novusdb",
		Short:   "Diagnostic CLI for a NovusDB data directory",
		Version: version,
	}
	root.AddCommand(newGetCmd(), newPutCmd(), newStatsCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "novusdb:", err)
		os.Exit(1)
	}
}

func withDB(dir string, fn func(db *api.DB) error) error {
	db, err := api.Open(dir)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <dir> <key>",
		Short: "Print the value visible for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(args[0], func(db *api.DB) error {
				v, err := db.Get([]byte(args[1]))
				if err != nil {
					return err
				}
				fmt.Println(string(v))
				return nil
			})
		},
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <dir> <key> <value>",
		Short: "Write a value for a key in its own committed transaction",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(args[0], func(db *api.DB) error {
				return db.Put([]byte(args[1]), []byte(args[2]))
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <dir>",
		Short: "Print a snapshot of engine state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(args[0], func(db *api.DB) error {
				s := db.Stats()
				fmt.Printf("current_tx_id:    %d\n", s.CurrentTxID)
				fmt.Printf("min_active_tx:    %d (active=%v)\n", s.MinActiveTx, s.HasActiveTx)
				fmt.Printf("wal_segment:      %d\n", s.WALSegment)
				fmt.Printf("wal_log_id:       %d\n", s.WALLogID)
				fmt.Printf("free_list_head:   %d\n", s.FreeListHead)
				return nil
			})
		},
	}
}
