package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ridgekv/ridgekv"
)

var (
	scanDB    uint16
	scanLimit int
)

func init() {
	cmd := newScanCmd()
	cmd.Flags().Uint16Var(&scanDB, "db", 1, "database name-id")
	cmd.Flags().IntVar(&scanLimit, "limit", 0, "stop after N entries (0 = no limit)")
	rootCmd.AddCommand(cmd)
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <path>",
		Short: "Walk a database's keys in order, printing key/value pairs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(args[0])
		},
	}
}

func runScan(path string) error {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}
	env, err := ridgekv.Open(path, ridgekv.OpenOptions{CacheSize: fcfg.CacheSize})
	if err != nil {
		return err
	}
	defer env.Close(0)

	db, err := env.OpenDatabase(scanDB)
	if err != nil {
		return err
	}
	cur := db.CursorCreate(nil)
	defer cur.Close()

	type entry struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	var entries []entry

	key, value, err := cur.Move(ridgekv.MoveFirst)
	for n := 0; err == nil; n++ {
		if scanLimit > 0 && n >= scanLimit {
			break
		}
		entries = append(entries, entry{Key: string(key), Value: string(value)})
		key, value, err = cur.Move(ridgekv.MoveNext)
	}
	if err != nil && !errors.Is(err, ridgekv.ErrKeyNotFound) {
		return err
	}

	if jsonOut {
		return printJSON(entries)
	}
	for _, e := range entries {
		printInfo("%s\t%s\n", e.Key, e.Value)
	}
	return nil
}
