package interactive

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tingxueren/clash-master/pkg/view"
)

// Defaults fills the fields a view command leaves out.
type Defaults struct {
	Backend int64
	Window  view.Window
}

// ParseView parses "view" command arguments: a kind followed by key=value
// options.
func ParseView(args []string, def Defaults) (view.Descriptor, error) {
	if len(args) == 0 {
		return view.Descriptor{}, fmt.Errorf("missing kind")
	}
	kind, err := view.ParseKind(args[0])
	if err != nil {
		return view.Descriptor{}, err
	}
	d := view.Descriptor{Kind: kind, Backend: def.Backend, Window: def.Window}

	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || value == "" {
			return view.Descriptor{}, fmt.Errorf("option %q: want key=value", arg)
		}
		switch strings.ToLower(key) {
		case "limit":
			if d.Page.Limit, err = strconv.Atoi(value); err != nil {
				return view.Descriptor{}, fmt.Errorf("limit: %w", err)
			}
		case "offset":
			if d.Page.Offset, err = strconv.Atoi(value); err != nil {
				return view.Descriptor{}, fmt.Errorf("offset: %w", err)
			}
		case "sort":
			d.Page.SortBy = value
		case "order":
			if d.Page.Order, err = view.ParseSortOrder(value); err != nil {
				return view.Descriptor{}, err
			}
		case "search":
			d.Page.Search = value
		case "backend":
			if d.Backend, err = strconv.ParseInt(value, 10, 64); err != nil {
				return view.Descriptor{}, fmt.Errorf("backend: %w", err)
			}
		case "window":
			if d.Window, err = view.ParseWindow(value); err != nil {
				return view.Descriptor{}, err
			}
		case "ip", "device":
			d.Scope.SourceIP = value
		case "chain":
			d.Scope.Chain = value
		case "rule":
			d.Scope.Rule = value
		default:
			return view.Descriptor{}, fmt.Errorf("unknown option %q", key)
		}
	}

	if err := d.Validate(); err != nil {
		return view.Descriptor{}, err
	}
	return d, nil
}

// parseID parses a view ID argument.
func parseID(args []string) (uint64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("missing view id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid view id %q", args[0])
	}
	return id, nil
}
