package main

import (
	"github.com/spf13/cobra"

	"github.com/ridgekv/ridgekv"
)

var (
	putDB        uint16
	putOverwrite bool
)

func init() {
	cmd := newPutCmd()
	cmd.Flags().Uint16Var(&putDB, "db", 1, "database name-id")
	cmd.Flags().BoolVar(&putOverwrite, "overwrite", false, "replace an existing key's value instead of failing")
	rootCmd.AddCommand(cmd)
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <path> <key> <value>",
		Short: "Insert or overwrite a key/value pair",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(args[0], args[1], args[2])
		},
	}
}

func runPut(path, key, value string) error {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	env, err := ridgekv.Open(path, ridgekv.OpenOptions{CacheSize: fcfg.CacheSize})
	if err != nil {
		return err
	}
	defer env.Close(0)

	db, err := env.OpenDatabase(putDB)
	if err != nil {
		return err
	}

	var flags ridgekv.Flag
	if putOverwrite {
		flags |= ridgekv.Overwrite
	}
	if err := db.Insert(nil, []byte(key), []byte(value), flags); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"db": putDB, "key": key, "inserted": true})
	}
	printInfo("put %q -> %q (db %d)\n", key, value, putDB)
	return nil
}
