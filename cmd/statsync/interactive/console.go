// Package interactive provides the interactive command-line interface
// for statsync.
package interactive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/juju/clock"

	"github.com/tingxueren/clash-master/pkg/service"
	"github.com/tingxueren/clash-master/pkg/view"
)

// commandTimeout bounds every service call made by a command.
const commandTimeout = 5 * time.Second

// Service is the part of the sync service the console drives.
// *service.SyncService implements it.
type Service interface {
	SubscribeToView(ctx context.Context, desc view.Descriptor) (*service.View, error)
	Views(ctx context.Context) ([]*service.View, error)
	ForceRefresh(ctx context.Context, prefix string) (int, error)
	Status(ctx context.Context) (service.Status, error)
}

// Console handles interactive mode for statsync.
type Console struct {
	svc      Service
	defaults Defaults
	clock    clock.Clock
	out      io.Writer
	rl       *readline.Instance

	closeOnce sync.Once
}

// New creates a console reading from the terminal.
func New(svc Service, defaults Defaults) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "statsync> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := NewWithOutput(svc, defaults, rl.Stdout())
	c.rl = rl
	return c, nil
}

// NewWithOutput creates a console without a terminal. Commands are fed
// through Exec.
func NewWithOutput(svc Service, defaults Defaults, out io.Writer) *Console {
	return &Console{
		svc:      svc,
		defaults: defaults,
		clock:    clock.WallClock,
		out:      out,
	}
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Close releases the terminal. A Run blocked in Readline returns.
func (c *Console) Close() {
	c.closeOnce.Do(func() {
		if c.rl != nil {
			c.rl.Close()
		}
	})
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if ctx.Err() == nil {
				fmt.Fprintln(c.out, "Exiting...")
			}
			cancel()
			return
		}

		if !c.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false for quit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "view", "v":
		c.cmdView(ctx, args)

	case "views", "ls":
		c.cmdViews(ctx)

	case "show", "s":
		c.cmdShow(ctx, args)

	case "close":
		c.cmdClose(ctx, args)

	case "refresh":
		c.cmdRefresh(ctx, args)

	case "status":
		c.cmdStatus(ctx)

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
statsync Commands:
  Views:
    view <kind> [options]  - Mount a view (kinds: summary, countries, devices,
                             proxies, rules, domains, ips)
    views                  - List mounted views
    show <id>              - Show the current value of a view
    close <id>             - Unmount a view

  Options (key=value):
    limit offset sort order=asc|desc search backend window ip chain rule

  Sync:
    refresh [prefix]       - Drop cached entries and pull again
    status                 - Show connection and cache status

  General:
    help                   - Show this help
    quit                   - Exit`)
}

func (c *Console) cmdView(ctx context.Context, args []string) {
	desc, err := ParseView(args, c.defaults)
	if err != nil {
		fmt.Fprintf(c.out, "Usage: view <kind> [key=value ...]: %v\n", err)
		return
	}
	v, err := c.svc.SubscribeToView(ctx, desc)
	if err != nil {
		fmt.Fprintf(c.out, "Failed to mount view: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "View %d mounted: %s\n", v.ID(), desc)
}

func (c *Console) cmdViews(ctx context.Context) {
	views, err := c.svc.Views(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(views) == 0 {
		fmt.Fprintln(c.out, "No views mounted")
		return
	}
	fmt.Fprintf(c.out, "Mounted views (%d):\n", len(views))
	for _, v := range views {
		st := v.State()
		source := st.Provenance.String()
		if st.Loading {
			source = "loading"
		}
		if st.Err != nil {
			source += ", error"
		}
		fmt.Fprintf(c.out, "  %3d  %-8s %s\n", v.ID(), source, v.Descriptor())
	}
}

func (c *Console) findView(ctx context.Context, args []string) *service.View {
	id, err := parseID(args)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return nil
	}
	views, err := c.svc.Views(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return nil
	}
	for _, v := range views {
		if v.ID() == id {
			return v
		}
	}
	fmt.Fprintf(c.out, "No view %d\n", id)
	return nil
}

func (c *Console) cmdShow(ctx context.Context, args []string) {
	if v := c.findView(ctx, args); v != nil {
		Render(c.out, v.State(), c.clock.Now())
	}
}

func (c *Console) cmdClose(ctx context.Context, args []string) {
	v := c.findView(ctx, args)
	if v == nil {
		return
	}
	if err := v.Close(); err != nil {
		fmt.Fprintf(c.out, "Failed to close view: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "View %d closed\n", v.ID())
}

func (c *Console) cmdRefresh(ctx context.Context, args []string) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	n, err := c.svc.ForceRefresh(ctx, prefix)
	if err != nil {
		fmt.Fprintf(c.out, "Refresh failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Dropped %d cached entries\n", n)
}

func (c *Console) cmdStatus(ctx context.Context) {
	st, err := c.svc.Status(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	conn := st.Connection
	fmt.Fprintf(c.out, "Service:      %s\n", st.State)
	fmt.Fprintf(c.out, "Connection:   %s (generation %d", conn.State, conn.Generation)
	if conn.ConnectionID != "" {
		fmt.Fprintf(c.out, ", id %s", conn.ConnectionID)
	}
	fmt.Fprintln(c.out, ")")
	if conn.Latency > 0 {
		fmt.Fprintf(c.out, "Latency:      %s\n", conn.Latency.Round(time.Millisecond))
	}
	if conn.LastError != nil {
		fmt.Fprintf(c.out, "Last error:   %v\n", conn.LastError)
	}
	fmt.Fprintf(c.out, "Views:        %d (%d pull schedules)\n", st.Views, st.Scheduled)
	fmt.Fprintf(c.out, "Subscription: %v (revision %d)\n", st.Subscribed, st.Revision)
	fmt.Fprintf(c.out, "Cache:        %d entries\n", st.CacheEntries)
}
