package observability

import (
	"go.uber.org/zap"
)

// NewLogger builds the engine's structured logger. Verbose mode uses the
// development encoder with debug level; otherwise production JSON at info.
func NewLogger(verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}
