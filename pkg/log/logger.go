package log

// Logger receives capture events. Log runs on connection goroutines, so an
// implementation must be safe for concurrent use and should return quickly.
// A nil Logger in a config means no capture.
type Logger interface {
	Log(event Event)
}

// LoggerFunc lets a plain function serve as a Logger.
type LoggerFunc func(Event)

func (f LoggerFunc) Log(e Event) { f(e) }

// NoopLogger drops every event.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
)
