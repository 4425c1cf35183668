package main

import (
	"github.com/spf13/cobra"

	"github.com/ridgekv/ridgekv"
)

var getDB uint16

func init() {
	cmd := newGetCmd()
	cmd.Flags().Uint16Var(&getDB, "db", 1, "database name-id")
	rootCmd.AddCommand(cmd)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> <key>",
		Short: "Look up a key's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(args[0], args[1])
		},
	}
}

func runGet(path, key string) error {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	env, err := ridgekv.Open(path, ridgekv.OpenOptions{CacheSize: fcfg.CacheSize})
	if err != nil {
		return err
	}
	defer env.Close(0)

	db, err := env.OpenDatabase(getDB)
	if err != nil {
		return err
	}

	value, err := db.Find(nil, []byte(key), ridgekv.FindExact)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"db": getDB, "key": key, "value": string(value)})
	}
	printInfo("%s\n", value)
	return nil
}
