package ice

import (
	"fmt"

	pionlogging "github.com/pion/logging"
)

// loggerFactory adapts this package's ipfs/go-log/v2 logger to pion's
// LoggerFactory, so every pion/ice.Agent we create logs through the same
// subsystem-scoped logger as the rest of this package instead of pion's
// default stdlib logger.
type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) pionlogging.LeveledLogger {
	return scopedLogger{scope: scope}
}

// scopedLogger implements pionlogging.LeveledLogger by prefixing every
// message with the pion subsystem scope ("ice", "mdns", …) and forwarding
// to the package-wide ipfs/go-log/v2 logger.
type scopedLogger struct {
	scope string
}

func (l scopedLogger) prefix(msg string) string { return fmt.Sprintf("[%s] %s", l.scope, msg) }

func (l scopedLogger) Trace(msg string)                  { log.Debug(l.prefix(msg)) }
func (l scopedLogger) Tracef(format string, args ...any)  { log.Debugf(l.prefix(format), args...) }
func (l scopedLogger) Debug(msg string)                  { log.Debug(l.prefix(msg)) }
func (l scopedLogger) Debugf(format string, args ...any) { log.Debugf(l.prefix(format), args...) }
func (l scopedLogger) Info(msg string)                   { log.Info(l.prefix(msg)) }
func (l scopedLogger) Infof(format string, args ...any)  { log.Infof(l.prefix(format), args...) }
func (l scopedLogger) Warn(msg string)                   { log.Warn(l.prefix(msg)) }
func (l scopedLogger) Warnf(format string, args ...any)  { log.Warnf(l.prefix(format), args...) }
func (l scopedLogger) Error(msg string)                  { log.Error(l.prefix(msg)) }
func (l scopedLogger) Errorf(format string, args ...any) { log.Errorf(l.prefix(format), args...) }
