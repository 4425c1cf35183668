package main

import (
	"github.com/spf13/cobra"

	"github.com/ridgekv/ridgekv"
)

func init() {
	rootCmd.AddCommand(newDumpEnvCmd())
}

func newDumpEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-env <path>",
		Short: "Print environment metrics and database names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDumpEnv(args[0])
		},
	}
}

func runDumpEnv(path string) error {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	env, err := ridgekv.Open(path, ridgekv.OpenOptions{CacheSize: fcfg.CacheSize})
	if err != nil {
		return err
	}
	defer env.Close(0)

	m := env.Metrics()
	names := env.DatabaseNames()

	if jsonOut {
		return printJSON(map[string]any{
			"page_size":       m.PageSize,
			"max_databases":   m.MaxDatabases,
			"open_databases":  m.OpenDatabases,
			"outstanding_txn": m.OutstandingTxn,
			"databases":       names,
		})
	}
	printInfo("page size:       %d\n", m.PageSize)
	printInfo("max databases:   %d\n", m.MaxDatabases)
	printInfo("open databases:  %d\n", m.OpenDatabases)
	printInfo("outstanding txn: %d\n", m.OutstandingTxn)
	printInfo("databases:       %v\n", names)
	return nil
}
