package main

import (
	"github.com/BurntSushi/toml"

	"github.com/ridgekv/ridgekv"
)

// fileConfig is the optional TOML config file shape (SPEC_FULL.md
// AMBIENT STACK "Configuration"): page size, cache size and max
// databases, layered under whatever the command-line flags set. The
// log_level key is decoded into LogLevel but not applied anywhere.
type fileConfig struct {
	PageSize     uint32 `toml:"page_size"`
	MaxDatabases uint32 `toml:"max_databases"`
	CacheSize    int    `toml:"cache_size"`
	LogLevel     string `toml:"log_level"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return cfg, nil
	}
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

func (cfg fileConfig) createOptions() ridgekv.CreateOptions {
	return ridgekv.CreateOptions{
		PageSize:     cfg.PageSize,
		MaxDatabases: cfg.MaxDatabases,
		CacheSize:    cfg.CacheSize,
	}
}
