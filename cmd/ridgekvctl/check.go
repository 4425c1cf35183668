package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ridgekv/ridgekv"
)

var (
	checkDB  uint16
	checkAll bool
)

func init() {
	cmd := newCheckCmd()
	cmd.Flags().Uint16Var(&checkDB, "db", 1, "database name-id to check")
	cmd.Flags().BoolVar(&checkAll, "all", false, "check every database in the environment")
	rootCmd.AddCommand(cmd)
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Verify a database's on-disk structural invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0])
		},
	}
}

func runCheck(path string) error {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	env, err := ridgekv.Open(path, ridgekv.OpenOptions{CacheSize: fcfg.CacheSize})
	if err != nil {
		return err
	}
	defer env.Close(0)

	ids := []uint16{checkDB}
	if checkAll {
		ids = env.DatabaseNames()
	}

	results := make(map[uint16]string, len(ids))
	var failed bool
	for _, id := range ids {
		db, err := env.OpenDatabase(id)
		if err != nil {
			results[id] = err.Error()
			failed = true
			continue
		}
		if err := db.CheckIntegrity(); err != nil {
			results[id] = err.Error()
			failed = true
			continue
		}
		results[id] = "ok"
	}

	if jsonOut {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		for id, status := range results {
			printInfo("db %d: %s\n", id, status)
		}
	}
	if failed {
		return fmt.Errorf("integrity check failed")
	}
	return nil
}
