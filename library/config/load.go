// Package config loads configuration into gconfig.Shared and exposes typed settings.
package config

import (
	"path/filepath"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/library/log"
)

// LoadFromFile merges the YAML file at cfgPath into gconfig.Shared.
// An empty path keeps flag and default values only.
func LoadFromFile(cfgPath string) {
	if cfgPath == "" {
		log.Logger.Info("no configuration file, using flags and defaults")
		return
	}

	gconfig.Shared.Set("cfg_dir", filepath.Dir(cfgPath))
	if err := gconfig.Shared.LoadFromFile(cfgPath); err != nil {
		log.Logger.Panic("load configuration",
			zap.Error(err),
			zap.String("config", cfgPath))
	}

	log.Logger.Info("load configuration",
		zap.String("config", cfgPath))
}
