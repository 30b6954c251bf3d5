package flashcore

import "github.com/sirupsen/logrus"

// Progress reports the orchestrator's position inside the current phase,
// per spec §4.5 Phase E: "(bytes_sent, bytes_total)" after each block, plus
// the phase tag spec §5's ordering guarantee requires on every event.
type Progress struct {
	Phase      Phase
	BytesSent  int
	BytesTotal int
	Percentage float64
}

// ProgressCallback receives Progress events in strict phase-and-offset
// order; no event is emitted after a terminal one, matching spec §5.
// Modeled on moffa90-go-cyacd's bootloader.ProgressCallback.
type ProgressCallback func(Progress)

// Logger is the small leveled-logging interface the orchestrator consults,
// modeled on moffa90-go-cyacd's bootloader.Logger so any logging backend
// can be adapted in. This port's default adapter wraps *logrus.Entry.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// logrusLogger adapts a *logrus.Entry to the Logger interface, turning the
// variadic key/value pairs into structured fields the way this port's
// AMBIENT STACK calls for in flashcore, uds and security.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps entry (or a fresh standard-logger entry if nil) as
// a flashcore.Logger.
func NewLogrusLogger(entry *logrus.Entry) Logger {
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return &logrusLogger{entry: entry}
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l *logrusLogger) Debug(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *logrusLogger) Info(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *logrusLogger) Warn(msg string, kv ...interface{})  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *logrusLogger) Error(msg string, kv ...interface{}) { l.entry.WithFields(fields(kv)).Error(msg) }
