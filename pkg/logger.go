package pkg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a map of fields to add to log entries
type Fields map[string]any

var (
	instance *Logger
	once     sync.Once
	mu       sync.RWMutex

	// sync.Once for global zerolog state (avoids data races when
	// multiple loggers are created concurrently)
	timeFormatOnce sync.Once
)

// Logger wraps zerolog with configured sinks and persistent fields.
type Logger struct {
	*zerolog.Logger
	config *LogConfig
}

// LogConfig holds logger configuration
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic)
	Level string `json:"level"`

	// Format is the output format (json, console)
	Format string `json:"format"`

	// TimestampFormat for logs
	TimestampFormat string `json:"timestamp_format"`

	// Console output settings
	Console ConsoleConfig `json:"console"`

	// File output settings
	File FileConfig `json:"file"`

	// Fields are default fields added to all logs
	Fields Fields `json:"fields"`

	// AsyncWrite uses a diode writer so logging never blocks RPC handlers
	AsyncWrite bool `json:"async_write"`

	// BufferSize for the async writer
	BufferSize int `json:"buffer_size"`
}

// ConsoleConfig for console output
type ConsoleConfig struct {
	Enable bool `json:"enable"`

	NoColor bool `json:"no_color"`

	TimeFormat string `json:"time_format"`

	// Output target (stdout, stderr)
	Output string `json:"output"`
}

// FileConfig for file output
type FileConfig struct {
	Enable bool `json:"enable"`

	// Path to log file
	Path string `json:"path"`

	// MaxSize in megabytes
	MaxSize int `json:"max_size"`

	// MaxAge in days
	MaxAge int `json:"max_age"`

	// MaxBackups to keep
	MaxBackups int `json:"max_backups"`

	// Compress rotated files
	Compress bool `json:"compress"`
}

// DefaultLogConfig returns default logger configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:           "info",
		Format:          "console",
		TimestampFormat: time.RFC3339Nano,
		Console: ConsoleConfig{
			Enable:     true,
			TimeFormat: "15:04:05.000",
			Output:     "stdout",
		},
		File: FileConfig{
			Enable:     false,
			Path:       "chordkv.log",
			MaxSize:    100, // 100MB
			MaxAge:     30,  // 30 days
			MaxBackups: 10,
			Compress:   true,
		},
		Fields:     make(Fields),
		AsyncWrite: false,
		BufferSize: 10000,
	}
}

// InitLogger initializes the global logger with configuration
func InitLogger(config *LogConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}

	SetGlobalLogger(logger)
	return nil
}

// NewLogger creates a new logger instance
func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{}

	if config.Console.Enable {
		var output io.Writer
		switch config.Console.Output {
		case "stderr":
			output = os.Stderr
		default:
			output = os.Stdout
		}

		if config.Format == "console" {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: config.Console.TimeFormat,
				NoColor:    config.Console.NoColor,
			})
		} else {
			writers = append(writers, output)
		}
	}

	if config.File.Enable {
		if err := os.MkdirAll(filepath.Dir(config.File.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSize,
			MaxAge:     config.File.MaxAge,
			MaxBackups: config.File.MaxBackups,
			Compress:   config.File.Compress,
		})
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if config.AsyncWrite {
		writer = diode.NewWriter(writer, config.BufferSize, time.Second, func(missed int) {
			fmt.Fprintf(os.Stderr, "Logger dropped %d messages\n", missed)
		})
	}

	if config.TimestampFormat != "" {
		timeFormatOnce.Do(func() {
			zerolog.TimeFieldFormat = config.TimestampFormat
		})
	}

	ctx := zerolog.New(writer).
		Level(level).
		With().
		Timestamp()

	for k, v := range config.Fields {
		ctx = ctx.Interface(k, v)
	}

	zl := ctx.Logger()

	return &Logger{
		Logger: &zl,
		config: config,
	}, nil
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	instance = l
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	once.Do(func() {
		if instance == nil {
			l, _ := NewLogger(DefaultLogConfig())
			instance = l
		}
	})
	return instance
}

// WithFields creates a child logger with additional persistent fields
func (l *Logger) WithFields(fields Fields) *Logger {
	ctx := l.Logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}

	zl := ctx.Logger()
	return &Logger{
		Logger: &zl,
		config: l.config,
	}
}

// Close flushes any buffered logs.
func (l *Logger) Close() error {
	if l.config != nil && l.config.AsyncWrite {
		// Give the diode writer time for a final flush
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}
