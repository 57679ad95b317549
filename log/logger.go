package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerInstance *zap.Logger
	mu             sync.Mutex
)

const serviceName = "wearwatch"

// NewLogger builds a logger for the given level ("debug", "info", "warn", "error")
// and format ("json" or "console"). Unknown levels fall back to info.
func NewLogger(level, format, service string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var config zap.Config
	if format == "console" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.OutputPaths = []string{"stdout"}
		config.ErrorOutputPaths = []string{"stderr"}
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
		config.EncoderConfig.LevelKey = "level"
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.CallerKey = "caller"
		config.EncoderConfig.StacktraceKey = "stacktrace"
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	if service != "" {
		logger = logger.With(zap.String("service_name", service))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger, nil
}

// Init replaces the process-wide logger. Call once at startup before GetInstance.
func Init(level, format string) error {
	logger, err := NewLogger(level, format, serviceName)
	if err != nil {
		return err
	}
	mu.Lock()
	loggerInstance = logger
	mu.Unlock()
	return nil
}

func GetInstance() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if loggerInstance == nil {
		logger, err := NewLogger("info", "json", serviceName)
		if err != nil {
			panic("Failed to initialize logger: " + err.Error())
		}
		loggerInstance = logger
	}
	return loggerInstance
}
