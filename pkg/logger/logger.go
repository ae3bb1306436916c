package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const DefaultLogFile = "logs/packet-racers.log"

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
)

func init() {
	levelStr := strings.TrimSpace(os.Getenv("P2P_LOG_LEVEL"))
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	Init(levelStr, DefaultLogFile)
}

// Init rebuilds the global loggers. An empty or unparsable level falls back to info.
func Init(levelStr, logFile string) {
	if logFile == "" {
		logFile = DefaultLogFile
	}

	// lumberjack creates the directory on first write
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     0,
		Compress:   false,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	core := zapcore.NewCore(
		fileEncoder,
		zapcore.AddSync(rotator),
		ParseLevel(levelStr),
	)

	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
}

// ParseLevel maps a textual level onto a zap level, defaulting to info.
func ParseLevel(levelStr string) zapcore.Level {
	level := zapcore.InfoLevel
	levelStr = strings.TrimSpace(levelStr)
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}
	return level
}
