// Package logging builds the process logger: JSON to stderr, optionally
// teed to Graylog.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ethereum/esp-website-sub001/internal/gelf"
)

// Config selects the level and optional GELF destination.
type Config struct {
	Level    string
	GelfAddr string
	Service  string
}

// New returns the logger and a flush function to run on shutdown. A GELF
// address that cannot be dialed is reported and skipped.
func New(cfg Config) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.EpochTimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stderr), level),
	}

	var gw *gelf.Writer
	var gelfErr error
	if cfg.GelfAddr != "" {
		gw, gelfErr = gelf.New(cfg.GelfAddr, cfg.Service)
		if gelfErr == nil {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(enc), gw, level))
		}
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("service", cfg.Service))
	if gelfErr != nil {
		log.Warn("gelf logging disabled", zap.String("addr", cfg.GelfAddr), zap.Error(gelfErr))
	} else if gw != nil {
		log.Info("gelf logging enabled", zap.String("addr", cfg.GelfAddr))
	}

	flush := func() {
		_ = log.Sync()
		if gw != nil {
			gw.Close()
		}
	}
	return log, flush, nil
}
