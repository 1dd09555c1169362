// Command graphclient talks to graph backends: schema changes, queries,
// mutations, a contention benchmark and an interactive transaction shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/client"
	"github.com/dd0wney/cluso-graphclient/pkg/config"
	"github.com/dd0wney/cluso-graphclient/pkg/logging"
	"github.com/dd0wney/cluso-graphclient/pkg/memgraph"
)

// globalFlags are accepted by every subcommand.
type globalFlags struct {
	configPath string
	endpoints  string
	transport  string
	timeout    time.Duration
	token      string
	logLevel   string
	local      bool
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.configPath, "config", "", "client config YAML")
	fs.StringVar(&g.endpoints, "endpoints", "", "comma separated backend addresses, e.g. tcp://127.0.0.1:9080")
	fs.StringVar(&g.transport, "transport", "", "nng or zmq")
	fs.DurationVar(&g.timeout, "timeout", 0, "default per-call timeout")
	fs.StringVar(&g.token, "token", "", "bearer token sent with every call")
	fs.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&g.local, "local", false, "use an in-process backend instead of dialing")
}

// clientConfig layers the flags over the config file (or the defaults).
func (g *globalFlags) clientConfig() (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	cfg.LogLevel = "warn"
	if g.configPath != "" {
		loaded, err := config.LoadClientConfig(g.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if g.endpoints != "" {
		cfg.Endpoints = splitList(g.endpoints)
	}
	if g.transport != "" {
		cfg.Transport = g.transport
	}
	if g.timeout > 0 {
		cfg.Timeout = g.timeout
	}
	if g.token != "" {
		cfg.Auth.Token = g.token
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

// connect builds a client from the flags. The returned func releases it.
func (g *globalFlags) connect(ctx context.Context) (*client.Client, func(), error) {
	if g.local {
		store, err := memgraph.NewStore(memgraph.DefaultStoreConfig())
		if err != nil {
			return nil, nil, err
		}
		opts := []client.Option{client.WithDefaultTimeout(g.timeout)}
		if g.logLevel != "" {
			opts = append(opts, client.WithLogger(logging.NewStderrLogger(logging.ParseLevel(g.logLevel))))
		}
		dg, err := client.NewClientWithOptions([]api.Conn{store}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return dg, func() {}, nil
	}

	cfg, err := g.clientConfig()
	if err != nil {
		return nil, nil, err
	}
	dg, err := client.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return dg, func() { _ = dg.Close() }, nil
}

type command struct {
	usage string
	run   func(ctx context.Context, g *globalFlags, args []string, out io.Writer) error
}

var commands = map[string]command{
	"version": {"print the backend version", runVersion},
	"alter":   {"change the schema or drop data", runAlter},
	"query":   {"run a read-only query", runQuery},
	"mutate":  {"apply a JSON mutation", runMutate},
	"health":  {"ping every configured endpoint", runHealth},
	"bench":   {"run concurrent read-modify-write transactions", runBench},
	"shell":   {"interactive transaction shell", runShell},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render("graphclient")+" <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s %s\n", keyStyle.Width(9).Render(name), dimStyle.Render(commands[name].usage))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, dimStyle.Render("Run 'graphclient <command> -h' for command flags."))
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		usage(os.Stderr)
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintln(os.Stderr, errorStyle.Render("unknown command "+os.Args[1]))
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g globalFlags
	if err := cmd.run(ctx, &g, os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+describe(err))
		if client.IsConfigurationError(err) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// describe adds the error class to the message.
func describe(err error) string {
	switch {
	case client.IsConfigurationError(err):
		return "configuration: " + err.Error()
	case client.IsTimeout(err):
		return "timeout: " + err.Error()
	case client.IsTransportError(err):
		return "transport: " + err.Error()
	case client.IsProtocolError(err):
		return "rejected: " + err.Error()
	}
	return err.Error()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
