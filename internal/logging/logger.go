package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mautops/repair-gin/internal/config"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

var (
	defaultLogger *logrus.Logger
	defaultMu     sync.Mutex
)

// New 创建 JSON 格式的日志记录器
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(jsonFormatter())
	logger.SetLevel(logrus.InfoLevel)
	logger.SetOutput(os.Stdout)
	return logger
}

// NewFromConfig 根据配置创建日志记录器
func NewFromConfig(cfg *config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	if cfg.Format == "json" {
		logger.SetFormatter(jsonFormatter())
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	}

	logger.SetLevel(ParseLevel(cfg.Level))

	var writers []io.Writer
	if cfg.Output == "stdout" || cfg.Output == "both" {
		writers = append(writers, os.Stdout)
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		logFile := cfg.File
		if logFile == "" {
			logFile = filepath.Join("logs", "repair-gin.log")
		}
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}
	logger.SetOutput(io.MultiWriter(writers...))

	// 默认字段,便于日志聚合
	logger.AddHook(&defaultFieldsHook{
		fields: logrus.Fields{"service": "repair-gin"},
	})

	return logger, nil
}

// ParseLevel 解析日志级别,无法识别时使用 info
func ParseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: timestampFormat,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "time",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	}
}

type defaultFieldsHook struct {
	fields logrus.Fields
}

func (h *defaultFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *defaultFieldsHook) Fire(entry *logrus.Entry) error {
	for k, v := range h.fields {
		if _, ok := entry.Data[k]; !ok {
			entry.Data[k] = v
		}
	}
	return nil
}

// Get 获取全局日志记录器
func Get() *logrus.Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New()
	}
	return defaultLogger
}

// Set 替换全局日志记录器,服务启动时调用一次
func Set(logger *logrus.Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}
