package interactive

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tingxueren/clash-master/pkg/service"
	"github.com/tingxueren/clash-master/pkg/stats"
)

// maxRows bounds the rows printed for a list view.
const maxRows = 20

// Render writes a view state as a table.
func Render(w io.Writer, st service.ViewState, now time.Time) {
	fmt.Fprintf(w, "%s\n", st.Key)
	switch {
	case st.Loading && st.Err == nil:
		fmt.Fprintln(w, "  loading...")
	case !st.HasValue():
		fmt.Fprintln(w, "  no data")
	default:
		fmt.Fprintf(w, "  source: %s, updated %s ago\n",
			st.Provenance, now.Sub(st.UpdatedAt).Round(time.Second))
	}
	if st.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", st.Err)
	}
	if !st.HasValue() {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	switch v := st.Value.(type) {
	case stats.Summary:
		fmt.Fprintf(tw, "  upload\t%s\n", humanize.IBytes(uint64(v.TotalUpload)))
		fmt.Fprintf(tw, "  download\t%s\n", humanize.IBytes(uint64(v.TotalDownload)))
		fmt.Fprintf(tw, "  connections\t%s\n", humanize.Comma(v.TotalConnections))
		fmt.Fprintf(tw, "  domains\t%s\n", humanize.Comma(v.TotalDomains))
		fmt.Fprintf(tw, "  ips\t%s\n", humanize.Comma(v.TotalIPs))
		fmt.Fprintf(tw, "  rules\t%s\n", humanize.Comma(v.TotalRules))
		fmt.Fprintf(tw, "  proxies\t%s\n", humanize.Comma(v.TotalProxies))
	case []stats.CountryStat:
		renderRows(tw, "country", v, func(r stats.CountryStat) (string, stats.Traffic) { return r.Country, r.Traffic })
	case []stats.DeviceStat:
		renderRows(tw, "device", v, func(r stats.DeviceStat) (string, stats.Traffic) { return r.SourceIP, r.Traffic })
	case []stats.ProxyStat:
		renderRows(tw, "chain", v, func(r stats.ProxyStat) (string, stats.Traffic) { return r.Chain, r.Traffic })
	case []stats.RuleStat:
		renderRows(tw, "rule", v, func(r stats.RuleStat) (string, stats.Traffic) { return r.Rule, r.Traffic })
	case stats.DomainPage:
		fmt.Fprintf(tw, "  total\t%s\n", humanize.Comma(v.Total))
		renderRows(tw, "domain", v.Items, func(r stats.DomainStat) (string, stats.Traffic) { return r.Domain, r.Traffic })
	case stats.IPPage:
		fmt.Fprintf(tw, "  total\t%s\n", humanize.Comma(v.Total))
		renderRows(tw, "ip", v.Items, func(r stats.IPStat) (string, stats.Traffic) { return r.IP, r.Traffic })
	default:
		fmt.Fprintf(tw, "  %v\n", v)
	}
}

func renderRows[T any](w io.Writer, label string, rows []T, row func(T) (string, stats.Traffic)) {
	fmt.Fprintf(w, "  %s\tupload\tdownload\tconnections\n", label)
	for _, r := range stats.Head(rows, maxRows) {
		name, t := row(r)
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", name,
			humanize.IBytes(uint64(t.Upload)),
			humanize.IBytes(uint64(t.Download)),
			humanize.Comma(t.Connections))
	}
	if len(rows) > maxRows {
		fmt.Fprintf(w, "  ... %d more\n", len(rows)-maxRows)
	}
}
