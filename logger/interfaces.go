// Package logger provides the structured logging interface used across
// the recorder, danmu, and store packages.
package logger

// Logger is the minimal structured logging surface every component
// depends on. Components never import zerolog directly so tests can
// inject a fake.
type Logger interface {
	Log(format string)
	Logf(format string, v ...any)

	Warn(format string)
	Warnf(format string, v ...any)

	Debug(format string)
	Debugf(format string, v ...any)

	Error(format string)
	Errorf(format string, v ...any)

	Fatal(format string)
	Fatalf(format string, v ...any)

	// With returns a child logger carrying the given fields on every
	// subsequent call. Implementations must not mutate the receiver.
	With(fields map[string]any) Logger
}
