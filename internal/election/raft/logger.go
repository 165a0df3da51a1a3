package raft

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/zerolog"
)

// hclogAdapter routes hashicorp/raft's hclog output into zerolog.
type hclogAdapter struct {
	log  zerolog.Logger
	name string
}

func newHCLogAdapter(logger zerolog.Logger, name string) hclog.Logger {
	return &hclogAdapter{
		log:  logger.With().Str("subsystem", name).Logger(),
		name: name,
	}
}

func (a *hclogAdapter) Log(level hclog.Level, msg string, args ...interface{}) {
	a.event(toZerologLevel(level), msg, args)
}

func (a *hclogAdapter) Trace(msg string, args ...interface{}) { a.event(zerolog.TraceLevel, msg, args) }
func (a *hclogAdapter) Debug(msg string, args ...interface{}) { a.event(zerolog.DebugLevel, msg, args) }
func (a *hclogAdapter) Info(msg string, args ...interface{})  { a.event(zerolog.InfoLevel, msg, args) }
func (a *hclogAdapter) Warn(msg string, args ...interface{})  { a.event(zerolog.WarnLevel, msg, args) }
func (a *hclogAdapter) Error(msg string, args ...interface{}) { a.event(zerolog.ErrorLevel, msg, args) }

func (a *hclogAdapter) event(level zerolog.Level, msg string, args []interface{}) {
	a.log.WithLevel(level).Fields(argsToFields(args)).Msg(msg)
}

func (a *hclogAdapter) enabled(level zerolog.Level) bool {
	return a.log.GetLevel() <= level && zerolog.GlobalLevel() <= level
}

func (a *hclogAdapter) IsTrace() bool { return a.enabled(zerolog.TraceLevel) }
func (a *hclogAdapter) IsDebug() bool { return a.enabled(zerolog.DebugLevel) }
func (a *hclogAdapter) IsInfo() bool  { return a.enabled(zerolog.InfoLevel) }
func (a *hclogAdapter) IsWarn() bool  { return a.enabled(zerolog.WarnLevel) }
func (a *hclogAdapter) IsError() bool { return a.enabled(zerolog.ErrorLevel) }

func (a *hclogAdapter) ImpliedArgs() []interface{} { return nil }

func (a *hclogAdapter) With(args ...interface{}) hclog.Logger {
	return &hclogAdapter{
		log:  a.log.With().Fields(argsToFields(args)).Logger(),
		name: a.name,
	}
}

func (a *hclogAdapter) Name() string { return a.name }

func (a *hclogAdapter) Named(name string) hclog.Logger {
	return &hclogAdapter{
		log:  a.log.With().Str("sub", name).Logger(),
		name: a.name + "." + name,
	}
}

func (a *hclogAdapter) ResetNamed(name string) hclog.Logger {
	return &hclogAdapter{log: a.log, name: name}
}

// SetLevel is a no-op; verbosity follows the zerolog logger.
func (a *hclogAdapter) SetLevel(level hclog.Level) {}

func (a *hclogAdapter) GetLevel() hclog.Level {
	switch lvl := a.log.GetLevel(); {
	case lvl <= zerolog.TraceLevel:
		return hclog.Trace
	case lvl == zerolog.DebugLevel:
		return hclog.Debug
	case lvl == zerolog.InfoLevel:
		return hclog.Info
	case lvl == zerolog.WarnLevel:
		return hclog.Warn
	case lvl == zerolog.Disabled:
		return hclog.Off
	default:
		return hclog.Error
	}
}

func (a *hclogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(a.StandardWriter(opts), "", 0)
}

func (a *hclogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return a.log
}

func toZerologLevel(level hclog.Level) zerolog.Level {
	switch level {
	case hclog.Trace:
		return zerolog.TraceLevel
	case hclog.Debug:
		return zerolog.DebugLevel
	case hclog.Warn:
		return zerolog.WarnLevel
	case hclog.Error:
		return zerolog.ErrorLevel
	case hclog.Off:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// argsToFields converts hclog key/value pairs to zerolog fields.
func argsToFields(args []interface{}) map[string]interface{} {
	if len(args) < 2 {
		return nil
	}
	fields := make(map[string]interface{}, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}
