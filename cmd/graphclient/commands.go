package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/health"
	"github.com/dd0wney/cluso-graphclient/pkg/memgraph"
	"github.com/dd0wney/cluso-graphclient/pkg/transport"
)

var errUsage = errors.New("nothing to do")

func newFlagSet(name string, g *globalFlags, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	g.register(fs)
	return fs
}

func runVersion(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("version", g, os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	dg, release, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	v, err := dg.CheckVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, v.Tag)
	return nil
}

func runAlter(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("alter", g, os.Stderr)
	schema := fs.String("schema", "", "schema text, e.g. 'name: string @index(exact) .'")
	schemaFile := fs.String("schema-file", "", "read the schema from a file")
	dropAttr := fs.String("drop-attr", "", "drop one predicate")
	dropAll := fs.Bool("drop-all", false, "drop all data and schema")
	if err := fs.Parse(args); err != nil {
		return err
	}

	op := &api.Operation{Schema: *schema, DropAttr: *dropAttr, DropAll: *dropAll}
	if *schemaFile != "" {
		data, err := os.ReadFile(*schemaFile)
		if err != nil {
			return err
		}
		op.Schema = string(data)
	}
	if op.Schema == "" && op.DropAttr == "" && !op.DropAll {
		fs.Usage()
		return errUsage
	}

	dg, release, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := dg.Alter(ctx, op); err != nil {
		return err
	}
	fmt.Fprintln(out, successStyle.Render("ok"))
	return nil
}

func runQuery(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("query", g, os.Stderr)
	vars := fs.String("vars", "", "query variables, e.g. '$name=alice,$age=30'")
	verbose := fs.Bool("v", false, "print latency and read progress")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q := strings.Join(fs.Args(), " ")
	if q == "" {
		fs.Usage()
		return errUsage
	}
	vm, err := parseVars(*vars)
	if err != nil {
		return err
	}

	dg, release, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	txn := dg.NewReadOnlyTxn()
	resp, err := txn.QueryWithVars(ctx, q, vm)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, indentJSON(resp.Json))
	if *verbose {
		var startTs uint64
		if resp.Txn != nil {
			startTs = resp.Txn.StartTs
		}
		fmt.Fprintln(out, boxStyle.Render(kv(
			"start_ts", fmt.Sprint(startTs),
			"latency", resp.Latency.Total().String(),
			"lin_read", formatLinRead(dg.LinRead()),
		)))
	}
	return nil
}

func runMutate(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("mutate", g, os.Stderr)
	set := fs.String("set", "", "JSON object or array to set")
	del := fs.String("delete", "", "JSON object or array to delete")
	file := fs.String("file", "", "read the set JSON from a file ('-' for stdin)")
	ignoreIndex := fs.Bool("ignore-index-conflict", false, "do not conflict on index keys")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mu := &api.Mutation{IgnoreIndexConflict: *ignoreIndex}
	switch {
	case *file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		mu.SetJson = data
	case *file != "":
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		mu.SetJson = data
	case *set != "":
		mu.SetJson = []byte(*set)
	}
	if *del != "" {
		mu.DeleteJson = []byte(*del)
	}
	if len(mu.SetJson) == 0 && len(mu.DeleteJson) == 0 {
		fs.Usage()
		return errUsage
	}

	dg, release, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	txn := dg.NewTxn()
	defer func() { _ = txn.Discard(ctx) }()

	assigned, err := txn.Mutate(ctx, mu)
	if err != nil {
		return err
	}
	if err := txn.Commit(ctx); err != nil {
		return err
	}

	names := make([]string, 0, len(assigned.Uids))
	for name := range assigned.Uids {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := []string{"committed", fmt.Sprint(txn.StartTs())}
	for _, name := range names {
		pairs = append(pairs, "_:"+name, assigned.Uids[name])
	}
	fmt.Fprintln(out, kv(pairs...))
	return nil
}

func runHealth(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("health", g, os.Stderr)
	slow := fs.Duration("slow", 250*time.Millisecond, "report pings slower than this as degraded")
	if err := fs.Parse(args); err != nil {
		return err
	}

	hc := health.NewChecker()
	if g.local {
		store, err := memgraph.NewStore(memgraph.DefaultStoreConfig())
		if err != nil {
			return err
		}
		hc.RegisterCheck("local", health.ConnCheck("local", store, *slow))
	} else {
		cfg, err := g.clientConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		for _, addr := range cfg.Endpoints {
			conn, err := transport.Dial(ctx, cfg.Transport, addr, transport.WithCompression(cfg.Compression))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()
			hc.RegisterCheck(addr, health.ConnCheck(addr, conn, *slow))
		}
	}

	checkCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp := hc.Check(checkCtx)
	fmt.Fprintln(out, renderHealth(resp))
	if resp.Status == health.StatusUnhealthy {
		return errors.New("one or more endpoints are unhealthy")
	}
	return nil
}

func renderHealth(resp health.Response) string {
	names := make([]string, 0, len(resp.Checks))
	for name := range resp.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{headerStyle.Render("status " + statusText(resp.Status))}
	for _, name := range names {
		c := resp.Checks[name]
		line := fmt.Sprintf("%-28s %s", name, statusText(c.Status))
		if v, ok := c.Details["version"]; ok {
			line += dimStyle.Render(fmt.Sprintf("  %v", v))
		}
		if ms, ok := c.Details["latency_ms"]; ok {
			line += dimStyle.Render(fmt.Sprintf("  %vms", ms))
		}
		if c.Message != "" {
			line += "  " + c.Message
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func statusText(s health.Status) string {
	switch s {
	case health.StatusHealthy:
		return successStyle.Render(string(s))
	case health.StatusDegraded:
		return warnStyle.Render(string(s))
	}
	return errorStyle.Render(string(s))
}

// parseVars reads "$a=1,$b=two". Names must start with '$'.
func parseVars(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	vars := make(map[string]string)
	for _, pair := range splitList(s) {
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("variable %q: want $name=value", pair)
		}
		name = strings.TrimSpace(name)
		if !strings.HasPrefix(name, "$") {
			return nil, fmt.Errorf("variable %q must start with $", name)
		}
		vars[name] = strings.TrimSpace(val)
	}
	return vars, nil
}

func indentJSON(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

func formatLinRead(lr *api.LinRead) string {
	if lr == nil || len(lr.Ids) == 0 {
		return "{}"
	}
	groups := make([]uint32, 0, len(lr.Ids))
	for g := range lr.Ids {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = fmt.Sprintf("%d:%d", g, lr.Ids[g])
	}
	return "{" + strings.Join(parts, " ") + "}"
}
