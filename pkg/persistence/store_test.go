package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/stats"
	"github.com/tingxueren/clash-master/pkg/view"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEntries() []cache.Entry {
	at := time.UnixMilli(1700000000123)
	return []cache.Entry{
		{
			Key:        view.Key{Kind: view.KindSummary, Backend: 1, Fingerprint: "[1,2]"},
			Value:      stats.Summary{TotalUpload: 10, TotalDownload: 20},
			Provenance: cache.ProvenancePush,
			Generation: 3,
			UpdatedAt:  at,
		},
		{
			Key:        view.Key{Kind: view.KindCountries, Backend: 1, Fingerprint: "[1,2]"},
			Value:      []stats.CountryStat{{Country: "JP", Traffic: stats.Traffic{Upload: 1}}},
			Provenance: cache.ProvenancePull,
			Generation: 3,
			UpdatedAt:  at,
		},
		{
			Key:        view.Key{Kind: view.KindDomains, Backend: 2, Fingerprint: "last=1h0m0s|limit=10"},
			Value:      stats.DomainPage{Items: []stats.DomainStat{{Domain: "example.com"}}, Total: 1},
			Provenance: cache.ProvenancePull,
			Generation: 1,
			UpdatedAt:  at,
		},
	}
}

func TestSaveLoad(t *testing.T) {
	s := openMemory(t)
	want := sampleEntries()
	require.NoError(t, s.Save(want))

	got, skipped, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, got, len(want))

	byKey := make(map[string]cache.Entry)
	for _, e := range got {
		byKey[e.Key.String()] = e
	}
	for _, w := range want {
		g, ok := byKey[w.Key.String()]
		require.True(t, ok, w.Key.String())
		assert.Equal(t, w.Value, g.Value)
		assert.Equal(t, w.Provenance, g.Provenance)
		assert.Equal(t, w.Generation, g.Generation)
		assert.True(t, w.UpdatedAt.Equal(g.UpdatedAt))
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openMemory(t)
	entries := sampleEntries()
	require.NoError(t, s.Save(entries))
	require.NoError(t, s.Save(entries[:1]))

	got, _, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLoadSkipsUnknownKind(t *testing.T) {
	s := openMemory(t)
	entries := sampleEntries()
	entries[0].Key.Kind = view.Kind(99)
	require.NoError(t, s.Save(entries))

	got, skipped, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, got, 2)
}

func TestReopenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleEntries()))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, _, err := s.Load()
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestClear(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Save(sampleEntries()))
	require.NoError(t, s.Clear())

	got, _, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClosed(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Save(nil), ErrClosed)
	_, _, err = s.Load()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Clear(), ErrClosed)
}

func TestRestoreIntoCache(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Save(sampleEntries()))

	got, _, err := s.Load()
	require.NoError(t, err)

	c := cache.New(cache.Config{})
	assert.Equal(t, 3, c.Restore(got))
	e, ok := c.Get(view.Key{Kind: view.KindSummary, Backend: 1, Fingerprint: "[1,2]"})
	require.True(t, ok)
	assert.Equal(t, uint64(0), e.Generation)
}
