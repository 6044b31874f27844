// Package logging builds the process-lifetime *zap.Logger used by every
// other package. Grounded on cmd/tempo-query/main.go's
// zaplogfmt.NewEncoder(zap.NewProductionEncoderConfig()) pairing, with
// log rotation added since urpo runs as a long-lived single binary rather
// than tempo-query's sidecar process.
package logging

import (
	"fmt"
	"os"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Rotation selects when the backing log file is reopened.
type Rotation string

const (
	RotationNever  Rotation = "never"
	RotationHourly Rotation = "hourly"
	RotationDaily  Rotation = "daily"
)

// Config controls the constructed logger's level, destination and
// rotation policy.
type Config struct {
	Level    string // zapcore level name: debug, info, warn, error
	Rotation Rotation
	Path     string // empty means stdout, rotation is then a no-op
}

// New builds a logfmt-encoded *zap.Logger per cfg. Parse failures on Level
// fall back to info rather than refusing to start, since a bad log level
// shouldn't keep the receiver from serving traffic.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	enc := zaplogfmt.NewEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

func newSink(cfg Config) (zapcore.WriteSyncer, error) {
	if cfg.Path == "" {
		return zapcore.AddSync(os.Stdout), nil
	}
	return newRotatingSink(cfg.Path, cfg.Rotation)
}

// Nop returns a logger that discards everything, for tests and any
// component constructed without an explicit logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
