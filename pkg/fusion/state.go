package fusion

import (
	"time"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/view"
)

// ViewState is what a consumer sees for one mounted view.
type ViewState struct {
	Key        view.Key
	Value      any
	Provenance cache.Provenance
	UpdatedAt  time.Time

	// Err is the last failure of the view's data path. The value is kept.
	Err error

	// Loading is true until the first value arrives.
	Loading bool
}

// HasValue reports whether the state carries a value.
func (s ViewState) HasValue() bool {
	return s.Provenance != cache.ProvenanceNone
}

func stateFrom(key view.Key, e cache.Entry, ok bool) ViewState {
	if !ok {
		return ViewState{Key: key, Loading: true}
	}
	return ViewState{
		Key:        key,
		Value:      e.Value,
		Provenance: e.Provenance,
		UpdatedAt:  e.UpdatedAt,
	}
}
