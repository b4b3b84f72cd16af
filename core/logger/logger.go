package logger

// Logger is the leveled logging surface used across the service. Debugw
// carries structured fields for high-volume report traffic where printf
// formatting would be wasteful.
type Logger interface {
	Debugf(format string, args ...any)
	Debugw(msg string, fields map[string]any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
