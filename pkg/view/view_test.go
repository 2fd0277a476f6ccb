package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.UnixMilli(1700000000000)
	t1 = time.UnixMilli(1700003600000)
)

func TestKeyString(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
		want string
	}{
		{
			name: "SummaryFixed",
			desc: Descriptor{Kind: KindSummary, Backend: 1, Window: Fixed(t0, t1)},
			want: "summary:1:[1700000000000,1700003600000]",
		},
		{
			name: "CountriesFixed",
			desc: Descriptor{Kind: KindCountries, Backend: 1, Window: Fixed(t0, t1)},
			want: "countries:1:[1700000000000,1700003600000]",
		},
		{
			name: "DomainsRollingPaged",
			desc: Descriptor{
				Kind:    KindDomains,
				Backend: 2,
				Window:  Last(15 * time.Minute),
				Page:    Page{Limit: 50, SortBy: "download", Order: SortDesc},
			},
			want: "domains:2:last=15m0s|limit=50&order=desc&sort=download",
		},
		{
			name: "ScopedIPs",
			desc: Descriptor{
				Kind:    KindIPs,
				Backend: 1,
				Window:  Last(time.Hour),
				Scope:   Scope{SourceIP: "192.168.1.10"},
			},
			want: "ips:1:last=1h0m0s|device=192.168.1.10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.desc.Key().String())
		})
	}
}

func TestRollingWindowKeyIsStable(t *testing.T) {
	d := Descriptor{Kind: KindSummary, Backend: 1, Window: Last(30 * time.Minute)}
	k1 := d.Key()

	s1, e1 := d.Window.Resolve(t0)
	s2, e2 := d.Window.Resolve(t1)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, e1, e2)
	assert.Equal(t, k1, d.Key())
	assert.Equal(t, 30*time.Minute, e1.Sub(s1))
}

func TestFixedWindowDoesNotShift(t *testing.T) {
	w := Fixed(t0, t1)
	s, e := w.Resolve(time.Now())
	assert.True(t, s.Equal(t0))
	assert.True(t, e.Equal(t1))
}

func TestPushCovered(t *testing.T) {
	base := Descriptor{Backend: 1, Window: Fixed(t0, t1)}

	tests := []struct {
		name string
		mod  func(d *Descriptor)
		want bool
	}{
		{"Summary", func(d *Descriptor) { d.Kind = KindSummary }, true},
		{"CountriesDefault", func(d *Descriptor) { d.Kind = KindCountries }, true},
		{"CountriesTopN", func(d *Descriptor) { d.Kind = KindCountries; d.Page.Limit = DefaultPushTopN }, true},
		{"CountriesDeeper", func(d *Descriptor) { d.Kind = KindCountries; d.Page.Limit = DefaultPushTopN + 1 }, false},
		{"DevicesSecondPage", func(d *Descriptor) { d.Kind = KindDevices; d.Page.Offset = 10 }, false},
		{"RulesSearch", func(d *Descriptor) { d.Kind = KindRules; d.Page.Search = "geoip" }, false},
		{"ProxiesSorted", func(d *Descriptor) { d.Kind = KindProxies; d.Page.SortBy = "upload" }, false},
		{"DomainsNever", func(d *Descriptor) { d.Kind = KindDomains }, false},
		{"IPsNever", func(d *Descriptor) { d.Kind = KindIPs }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.mod(&d)
			assert.Equal(t, tt.want, d.PushCovered())
		})
	}
}

func TestDescriptorValidate(t *testing.T) {
	valid := Descriptor{Kind: KindDomains, Backend: 1, Window: Last(time.Hour)}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Kind = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidKind)

	bad = valid
	bad.Backend = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidBackend)

	bad = valid
	bad.Window = Fixed(t1, t0)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidWindow)

	bad = valid
	bad.Page.Limit = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPage)

	bad = Descriptor{Kind: KindSummary, Backend: 1, Window: Last(time.Hour), Page: Page{Limit: 5}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPage)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("15m")
	require.NoError(t, err)
	assert.True(t, w.Rolling())
	assert.Equal(t, 15*time.Minute, w.Last)

	w, err = ParseWindow("1700000000000..1700003600000")
	require.NoError(t, err)
	assert.False(t, w.Rolling())
	assert.True(t, w.Start.Equal(t0))

	w, err = ParseWindow("2024-01-01T00:00:00Z..2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, w.End.Sub(w.Start))

	_, err = ParseWindow("-5m")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ParseWindow("1700003600000..1700000000000")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("Country")
	require.NoError(t, err)
	assert.Equal(t, KindCountries, got)

	_, err = ParseKind("widgets")
	assert.ErrorIs(t, err, ErrInvalidKind)
}
