package log

// MultiLogger fans one event out to several loggers, typically a SlogAdapter
// for the console and a FileLogger for the capture file.
type MultiLogger struct {
	loggers []Logger
}

var _ Logger = (*MultiLogger)(nil)

// NewMultiLogger returns a MultiLogger over the given loggers. Nil entries
// are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.Add(l)
	}
	return m
}

// Add appends l. It must not be called concurrently with Log.
func (m *MultiLogger) Add(l Logger) {
	if l == nil {
		return
	}
	m.loggers = append(m.loggers, l)
}

// Len reports how many loggers receive events.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}
