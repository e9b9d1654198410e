// Package zapup builds the process logger from a small config that is
// usually read from the environment.
package zapup

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// KeyLogLevel sets log level. Valid values: "info", "debug", "warn", "error", "dpanic", "panic", "fatal".
	KeyLogLevel string = "FAILOVER_LOG_LEVEL"
	// KeyLogEncoding sets log output encoding. Valid values: "console", "json".
	KeyLogEncoding string = "FAILOVER_LOG_ENCODING"
	// KeyOutput sets the output path. Valid values: "stdout", "stderr", "<file path>".
	KeyOutput string = "FAILOVER_LOG_OUTPUT"
	// KeyFieldApp sets meta information for a field "app" to use within log analytics. Defaults to empty string.
	KeyFieldApp string = "FAILOVER_LOG_APP"
)

// Config describes the logger. Empty fields fall back to defaults.
type Config struct {
	Level    string
	Encoding string
	Output   string
	App      string
}

// ConfigFromEnv reads the logger config from FAILOVER_LOG_LEVEL,
// FAILOVER_LOG_ENCODING, FAILOVER_LOG_OUTPUT and FAILOVER_LOG_APP.
func ConfigFromEnv() Config {
	return Config{
		Level:    os.Getenv(KeyLogLevel),
		Encoding: os.Getenv(KeyLogEncoding),
		Output:   os.Getenv(KeyOutput),
		App:      os.Getenv(KeyFieldApp),
	}
}

// New builds a logger from c.
func New(c Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(or(purify(c.Level), "info"))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	return newLogger(
		func(zc *zap.Config) { zc.Level = level },
		logEncoding(or(purify(c.Encoding), "json")),
		logOutput(or(strings.TrimSpace(c.Output), "stdout")),
		initialField("app", c.App),
	)
}

// MustNew is like New but panics on error.
func MustNew(c Config) *zap.Logger {
	l, err := New(c)
	if err != nil {
		panic(fmt.Sprintf("Root logger failed: %v.", err))
	}
	return l
}

func initialField(key, val string) func(*zap.Config) {
	return func(c *zap.Config) {
		if c.InitialFields == nil {
			c.InitialFields = make(map[string]any)
		}
		val = purify(val)
		if val == "" {
			// we agreed on having no fields for empty values
			return
		}
		c.InitialFields[key] = val
	}
}

func logOutput(path string) func(*zap.Config) {
	return func(c *zap.Config) {
		c.OutputPaths = []string{path}
		c.ErrorOutputPaths = c.OutputPaths
	}
}

func logEncoding(enc string) func(*zap.Config) {
	return func(c *zap.Config) {
		c.Encoding = enc
	}
}

func newLogger(options ...func(*zap.Config)) (*zap.Logger, error) {
	config := &zap.Config{}
	for _, option := range options {
		option(config)
	}

	config.Development = false
	config.EncoderConfig = zap.NewProductionEncoderConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = ""
	config.Sampling = &zap.SamplingConfig{
		Initial:    100,
		Thereafter: 100,
	}

	return config.Build(zap.AddCaller())
}

func purify(value string) string {
	res := strings.ToLower(value)
	res = strings.TrimSpace(res)
	return res
}

func or(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
