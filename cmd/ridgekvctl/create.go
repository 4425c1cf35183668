package main

import (
	"github.com/spf13/cobra"

	"github.com/ridgekv/ridgekv"
)

var (
	createDB           uint16
	createKeyKind      string
	createKeyMaxSize   uint32
	createRecordSize   uint32
	createRecordNumber bool
)

func init() {
	cmd := newCreateCmd()
	cmd.Flags().Uint16Var(&createDB, "db", 1, "name-id of the database to create alongside the environment")
	cmd.Flags().StringVar(&createKeyKind, "key-kind", "bytes", "key type: bytes, uint8, uint16, uint32, uint64, float32, float64")
	cmd.Flags().Uint32Var(&createKeyMaxSize, "key-max-size", 0, "maximum key size in bytes (0 = unlimited, bytes keys only)")
	cmd.Flags().Uint32Var(&createRecordSize, "record-size", 0, "fixed record size in bytes (0 = variable-length)")
	cmd.Flags().BoolVar(&createRecordNumber, "record-number", false, "auto-increment integer keys")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <path>",
		Short: "Create a new environment and its first database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(args[0])
		},
	}
}

func runCreate(path string) error {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}

	env, err := ridgekv.Create(path, fcfg.createOptions())
	if err != nil {
		return err
	}
	defer env.Close(0)

	kind, err := parseKeyKind(createKeyKind)
	if err != nil {
		return err
	}
	if _, err := env.CreateDatabase(createDB, ridgekv.DatabaseParams{
		KeyKind:      kind,
		KeyMaxSize:   createKeyMaxSize,
		RecordSize:   createRecordSize,
		RecordNumber: createRecordNumber,
	}); err != nil {
		return err
	}

	if jsonOut {
		return printJSON(map[string]any{"path": path, "db": createDB, "created": true})
	}
	printInfo("created %s (db %d)\n", path, createDB)
	return nil
}
