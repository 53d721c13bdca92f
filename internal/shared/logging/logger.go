package logging

import "reflect"

// Logger is the printf-style logger every quill package accepts. Packages
// never import zap directly.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}

// Nop discards everything.
func Nop() Logger { return nop{} }

// IsNil reports whether logger is nil, including a typed nil pointer stored
// in the interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// OrNop substitutes Nop for a nil logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type prefixed struct {
	next   Logger
	prefix string
}

// Prefixed returns a logger that prepends prefix to every message. An empty
// prefix returns logger unchanged.
func Prefixed(logger Logger, prefix string) Logger {
	logger = OrNop(logger)
	if prefix == "" {
		return logger
	}
	if p, ok := logger.(*prefixed); ok {
		return &prefixed{next: p.next, prefix: p.prefix + prefix}
	}
	return &prefixed{next: logger, prefix: prefix}
}

func (p *prefixed) Debug(format string, args ...any) { p.next.Debug(p.prefix+format, args...) }
func (p *prefixed) Info(format string, args ...any)  { p.next.Info(p.prefix+format, args...) }
func (p *prefixed) Warn(format string, args ...any)  { p.next.Warn(p.prefix+format, args...) }
func (p *prefixed) Error(format string, args ...any) { p.next.Error(p.prefix+format, args...) }
