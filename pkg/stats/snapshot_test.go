package stats

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/pkg/view"
)

func TestSnapshotSections(t *testing.T) {
	s := &Snapshot{
		Backend:   1,
		Summary:   Summary{TotalUpload: 10, TotalDownload: 20},
		Countries: []CountryStat{{Country: "JP", Traffic: Traffic{Upload: 1}}},
		Domains:   &DomainPage{Total: 0},
	}

	assert.Equal(t, []view.Kind{view.KindSummary, view.KindCountries, view.KindDomains}, s.Kinds())

	v, ok := s.Section(view.KindCountries)
	assert.True(t, ok)
	assert.Len(t, v, 1)

	_, ok = s.Section(view.KindDevices)
	assert.False(t, ok)
}

func TestLimit(t *testing.T) {
	rows := []DeviceStat{{SourceIP: "a"}, {SourceIP: "b"}, {SourceIP: "c"}}

	assert.Len(t, Limit(rows, 2), 2)
	assert.Len(t, Limit(rows, 0), 3)
	assert.Len(t, Limit(rows, 10), 3)
	assert.Equal(t, Summary{TotalIPs: 3}, Limit(Summary{TotalIPs: 3}, 1))
}

func TestTrafficTotal(t *testing.T) {
	assert.Equal(t, int64(30), Traffic{Upload: 10, Download: 20}.Total())
}

func TestDecode(t *testing.T) {
	v, err := Decode(view.KindCountries, []byte(`[{"country":"JP","upload":5}]`), json.Unmarshal)
	require.NoError(t, err)
	rows, ok := v.([]CountryStat)
	require.True(t, ok)
	assert.Equal(t, "JP", rows[0].Country)
	assert.Equal(t, int64(5), rows[0].Upload)

	v, err = Decode(view.KindDomains, []byte(`{"data":[{"domain":"example.com"}],"total":7}`), json.Unmarshal)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.(DomainPage).Total)

	_, err = Decode(view.KindSummary, []byte(`not json`), json.Unmarshal)
	assert.Error(t, err)

	_, err = Decode(view.Kind(99), []byte(`{}`), json.Unmarshal)
	assert.Error(t, err)
}
