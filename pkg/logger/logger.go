package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps *logrus.Logger so every component logs through the same
// level/format configuration instead of reaching for the log package
// directly.
type Logger struct {
	*logrus.Logger
}

// LoggingConfig is the subset of internal/config.Config this package reads:
// level and format are the only two knobs any component ever varies, so
// that's all this carries (output is always stdout — a container's log
// driver owns shipping it anywhere else, out of scope here).
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New builds a Logger from cfg, defaulting to info level and text format on
// an unrecognized value rather than failing startup over a typo'd env var.
func New(cfg LoggingConfig) *Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger.SetOutput(os.Stdout)
	return &Logger{Logger: logger}
}

// NewDefault builds an info-level, text-formatted Logger tagged with a
// "component" field, for callers (tests, fallback construction when no
// *Logger was supplied) that don't have a loaded Config to hand to New.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text"})
	l.Logger.AddHook(componentHook{component: component})
	return l
}

type componentHook struct{ component string }

func (componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	entry.Data["component"] = h.component
	return nil
}

// WithField returns a new log entry with a field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a new log entry with multiple fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError returns a new log entry carrying the "error" field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}
