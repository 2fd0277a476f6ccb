package poll

import "time"

// Default cadence.
const (
	DefaultInterval     = 5 * time.Second
	DefaultPushInterval = 60 * time.Second
	DefaultGranularity  = time.Second
)

// Policy sets how often a job pulls.
type Policy struct {
	// Interval is the cadence while push is not authoritative.
	Interval time.Duration `yaml:"interval"`

	// PushInterval is the reduced cadence while push is authoritative.
	PushInterval time.Duration `yaml:"push_interval"`
}

// DefaultPolicy returns the default cadence.
func DefaultPolicy() Policy {
	return Policy{
		Interval:     DefaultInterval,
		PushInterval: DefaultPushInterval,
	}
}

// withDefaults fills unset fields. PushInterval never drops below Interval.
func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.PushInterval <= 0 {
		p.PushInterval = DefaultPushInterval
	}
	if p.PushInterval < p.Interval {
		p.PushInterval = p.Interval
	}
	return p
}

// interval returns the cadence for the current authority.
func (p Policy) interval(pushAuthoritative bool) time.Duration {
	if pushAuthoritative {
		return p.PushInterval
	}
	return p.Interval
}
