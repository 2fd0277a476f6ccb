package stats

import (
	"fmt"

	"github.com/tingxueren/clash-master/pkg/view"
)

// Decode unmarshals data into the payload type that belongs to kind.
// unmarshal is json.Unmarshal for REST bodies or a CBOR decoder for stored
// entries.
func Decode(kind view.Kind, data []byte, unmarshal func([]byte, any) error) (any, error) {
	switch kind {
	case view.KindSummary:
		return decodeAs[Summary](data, unmarshal)
	case view.KindCountries:
		return decodeAs[[]CountryStat](data, unmarshal)
	case view.KindDevices:
		return decodeAs[[]DeviceStat](data, unmarshal)
	case view.KindProxies:
		return decodeAs[[]ProxyStat](data, unmarshal)
	case view.KindRules:
		return decodeAs[[]RuleStat](data, unmarshal)
	case view.KindDomains:
		return decodeAs[DomainPage](data, unmarshal)
	case view.KindIPs:
		return decodeAs[IPPage](data, unmarshal)
	default:
		return nil, fmt.Errorf("no payload type for %s", kind)
	}
}

func decodeAs[T any](data []byte, unmarshal func([]byte, any) error) (any, error) {
	var v T
	if err := unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
