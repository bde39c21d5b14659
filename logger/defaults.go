package logger

import (
	"os"
	"regexp"

	"github.com/rs/zerolog"
)

var urlRegex = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*:\/\/[a-zA-Z0-9+%/.\-:_?&=#@+]+`)
var cookieRegex = regexp.MustCompile(`(?i)(cookie|csrf_token)=[^;&\s"]+`)

func cleanString(text string) string {
	safe := urlRegex.ReplaceAllString(text, "[redacted url]")
	safe = cookieRegex.ReplaceAllString(safe, "$1=[redacted]")
	return safe
}

func safeLogs() bool {
	return os.Getenv("SAFE_LOGS") == "true"
}

// DefaultLogger backs Logger with zerolog, matching the teacher's
// Log/Logf/Warn/Debug/Error/Fatal method set but writing structured
// fields instead of plain Println lines.
type DefaultLogger struct {
	z zerolog.Logger
}

// New builds the process-wide default logger, writing to stderr.
func New() *DefaultLogger {
	z := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return &DefaultLogger{z: z}
}

func (l *DefaultLogger) redact(format string) string {
	if safeLogs() {
		return cleanString(format)
	}
	return format
}

func (l *DefaultLogger) Log(format string)  { l.z.Info().Msg(l.redact(format)) }
func (l *DefaultLogger) Warn(format string) { l.z.Warn().Msg(l.redact(format)) }
func (l *DefaultLogger) Error(format string) { l.z.Error().Msg(l.redact(format)) }
func (l *DefaultLogger) Fatal(format string) { l.z.Fatal().Msg(l.redact(format)) }

func (l *DefaultLogger) Debug(format string) {
	if os.Getenv("DEBUG") == "true" {
		l.z.Debug().Msg(l.redact(format))
	}
}

func (l *DefaultLogger) Logf(format string, v ...any) {
	l.z.Info().Msgf(l.redact(format), v...)
}

func (l *DefaultLogger) Warnf(format string, v ...any) {
	l.z.Warn().Msgf(l.redact(format), v...)
}

func (l *DefaultLogger) Errorf(format string, v ...any) {
	l.z.Error().Msgf(l.redact(format), v...)
}

func (l *DefaultLogger) Fatalf(format string, v ...any) {
	l.z.Fatal().Msgf(l.redact(format), v...)
}

func (l *DefaultLogger) Debugf(format string, v ...any) {
	if os.Getenv("DEBUG") == "true" {
		l.z.Debug().Msgf(l.redact(format), v...)
	}
}

func (l *DefaultLogger) With(fields map[string]any) Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &DefaultLogger{z: ctx.Logger()}
}

// Default is the package-level fallback logger, mirroring the teacher's
// zero-value DefaultLogger{} convenience value.
var Default Logger = New()
