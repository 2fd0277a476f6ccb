package log

// MultiLogger fans each event out to a fixed set of sinks, typically a
// console adapter and a FileLogger.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines loggers. Nil entries and NoopLoggers are dropped
// and nested MultiLoggers are flattened, so Len counts real sinks.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	m.add(loggers)
	return m
}

func (m *MultiLogger) add(loggers []Logger) {
	for _, l := range loggers {
		switch l := l.(type) {
		case nil, NoopLogger:
		case *MultiLogger:
			if l != nil {
				m.add(l.sinks)
			}
		default:
			m.sinks = append(m.sinks, l)
		}
	}
}

// Log sends the event to every sink in order.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.sinks {
		l.Log(event)
	}
}

// Len returns the number of sinks.
func (m *MultiLogger) Len() int {
	return len(m.sinks)
}

// Logger returns the combination as a Logger: nil with no sinks, the sink
// itself when there is one.
func (m *MultiLogger) Logger() Logger {
	switch len(m.sinks) {
	case 0:
		return nil
	case 1:
		return m.sinks[0]
	default:
		return m
	}
}

var _ Logger = (*MultiLogger)(nil)
