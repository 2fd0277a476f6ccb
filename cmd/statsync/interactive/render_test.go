package interactive

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tingxueren/clash-master/pkg/cache"
	"github.com/tingxueren/clash-master/pkg/service"
	"github.com/tingxueren/clash-master/pkg/stats"
	"github.com/tingxueren/clash-master/pkg/view"
)

func TestRender(t *testing.T) {
	now := time.Unix(1700000000, 0)
	key := view.Key{Kind: view.KindSummary, Backend: 1, Fingerprint: "last=15m0s"}

	t.Run("loading", func(t *testing.T) {
		var buf bytes.Buffer
		Render(&buf, service.ViewState{Key: key, Loading: true}, now)
		assert.Contains(t, buf.String(), "summary:1:last=15m0s")
		assert.Contains(t, buf.String(), "loading...")
	})

	t.Run("error without value", func(t *testing.T) {
		var buf bytes.Buffer
		Render(&buf, service.ViewState{Key: key, Err: errors.New("no data path")}, now)
		assert.Contains(t, buf.String(), "no data")
		assert.Contains(t, buf.String(), "error: no data path")
	})

	t.Run("summary", func(t *testing.T) {
		var buf bytes.Buffer
		Render(&buf, service.ViewState{
			Key:        key,
			Value:      stats.Summary{TotalUpload: 2048, TotalDownload: 3 << 20, TotalConnections: 12345},
			Provenance: cache.ProvenancePush,
			UpdatedAt:  now.Add(-3 * time.Second),
		}, now)
		out := buf.String()
		assert.Contains(t, out, "source: push, updated 3s ago")
		assert.Contains(t, out, "2.0 KiB")
		assert.Contains(t, out, "3.0 MiB")
		assert.Contains(t, out, "12,345")
	})

	t.Run("rows are capped", func(t *testing.T) {
		rows := make([]stats.CountryStat, maxRows+5)
		for i := range rows {
			rows[i] = stats.CountryStat{Country: fmt.Sprintf("C%02d", i)}
		}
		var buf bytes.Buffer
		Render(&buf, service.ViewState{Key: key, Value: rows, Provenance: cache.ProvenancePull, UpdatedAt: now}, now)
		out := buf.String()
		assert.Contains(t, out, "country")
		assert.Contains(t, out, "C00")
		assert.NotContains(t, out, fmt.Sprintf("C%02d", maxRows))
		assert.Contains(t, out, "... 5 more")
	})

	t.Run("page", func(t *testing.T) {
		var buf bytes.Buffer
		Render(&buf, service.ViewState{
			Key:        key,
			Value:      stats.DomainPage{Items: []stats.DomainStat{{Domain: "example.com"}}, Total: 1200},
			Provenance: cache.ProvenancePull,
			UpdatedAt:  now,
		}, now)
		assert.Contains(t, buf.String(), "1,200")
		assert.Contains(t, buf.String(), "example.com")
	})
}
