package main

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func buildZapLogger(encoding string, level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config

	if encoding == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.MessageKey = "message"
		encoderConfig.LevelKey = "severity"
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.NameKey = "logger"
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder

		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
	}

	config.Level = atomicLevel

	return config.Build()
}
