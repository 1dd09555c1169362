package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/client"
)

var (
	errQuit  = errors.New("quit")
	errNoTxn = errors.New("no open transaction (use begin)")
)

const shellHelp = `begin [ro]          start a transaction (read-only with ro)
query <q>           query in the open transaction, or at the client level
mutate <json>       set JSON in the open transaction (begins one if needed)
delete <json>       delete JSON in the open transaction
commit | discard    finish the open transaction
alter <schema>      change the schema
drop <pred> | dropall
linread             show the client's read-progress vector
status              show the open transaction
exit`

// session is the state behind the shell: one client and at most one open
// transaction. It is not safe for concurrent use.
type session struct {
	dg  *client.Client
	txn *client.Txn
	ro  bool
}

// exec runs one shell line and returns what to print.
func (s *session) exec(ctx context.Context, line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "help", "?":
		return shellHelp, nil
	case "exit", "quit":
		return "", errQuit
	case "begin":
		return s.begin(rest)
	case "query":
		return s.query(ctx, rest)
	case "mutate", "set":
		return s.mutate(ctx, &api.Mutation{SetJson: []byte(rest)})
	case "delete":
		return s.mutate(ctx, &api.Mutation{DeleteJson: []byte(rest)})
	case "commit":
		return s.finish(ctx, true)
	case "discard", "abort":
		return s.finish(ctx, false)
	case "alter":
		return s.alter(ctx, &api.Operation{Schema: rest})
	case "drop":
		return s.alter(ctx, &api.Operation{DropAttr: rest})
	case "dropall":
		return s.alter(ctx, &api.Operation{DropAll: true})
	case "linread":
		return formatLinRead(s.dg.LinRead()), nil
	case "status":
		return s.status(), nil
	}
	return "", fmt.Errorf("unknown command %q (try help)", verb)
}

func (s *session) begin(arg string) (string, error) {
	if s.txn != nil {
		return "", errors.New("a transaction is already open (commit or discard it first)")
	}
	switch arg {
	case "":
		s.txn, s.ro = s.dg.NewTxn(), false
	case "ro", "readonly":
		s.txn, s.ro = s.dg.NewReadOnlyTxn(), true
	default:
		return "", fmt.Errorf("begin: unknown mode %q", arg)
	}
	return "began " + s.txn.ID(), nil
}

func (s *session) query(ctx context.Context, q string) (string, error) {
	if q == "" {
		return "", errors.New("query: empty query")
	}
	var fut *client.Future[*api.Response]
	if s.txn != nil {
		fut = s.txn.QueryAsync(ctx, q)
	} else {
		fut = s.dg.QueryAsync(ctx, q)
	}
	resp, err := fut.Await(ctx)
	if err != nil {
		return "", s.afterError(err)
	}
	return indentJSON(resp.Json), nil
}

func (s *session) mutate(ctx context.Context, mu *api.Mutation) (string, error) {
	if len(mu.SetJson) == 0 && len(mu.DeleteJson) == 0 {
		return "", errors.New("mutate: empty mutation")
	}
	if s.txn == nil {
		s.txn, s.ro = s.dg.NewTxn(), false
	}
	assigned, err := s.txn.MutateAsync(ctx, mu).Await(ctx)
	if err != nil {
		return "", s.afterError(err)
	}
	if len(assigned.Uids) == 0 {
		return "ok", nil
	}
	names := make([]string, 0, len(assigned.Uids))
	for name := range assigned.Uids {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, 2*len(names))
	for _, name := range names {
		pairs = append(pairs, "_:"+name, assigned.Uids[name])
	}
	return kv(pairs...), nil
}

func (s *session) finish(ctx context.Context, commit bool) (string, error) {
	if s.txn == nil {
		return "", errNoTxn
	}
	txn := s.txn
	s.txn = nil
	if !commit {
		if _, err := txn.DiscardAsync(ctx).Await(ctx); err != nil {
			return "", err
		}
		return "discarded", nil
	}
	if _, err := txn.CommitAsync(ctx).Await(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("committed (start_ts %d)", txn.StartTs()), nil
}

func (s *session) alter(ctx context.Context, op *api.Operation) (string, error) {
	if op.Schema == "" && op.DropAttr == "" && !op.DropAll {
		return "", errors.New("alter: nothing to change")
	}
	if _, err := s.dg.AlterAsync(ctx, op).Await(ctx); err != nil {
		return "", err
	}
	return "ok", nil
}

// afterError closes the open transaction when the server aborted it.
func (s *session) afterError(err error) error {
	if errors.Is(err, client.ErrAborted) && s.txn != nil {
		s.txn = nil
		return fmt.Errorf("%w (transaction closed)", err)
	}
	return err
}

func (s *session) status() string {
	if s.txn == nil {
		return "no open transaction"
	}
	mode := "read-write"
	if s.ro {
		mode = "read-only"
	}
	return kv(
		"txn", s.txn.ID(),
		"mode", mode,
		"start_ts", fmt.Sprint(s.txn.StartTs()),
		"keys", fmt.Sprint(len(s.txn.Keys())),
		"lin_read", formatLinRead(s.txn.LinRead()),
	)
}

// close discards any open transaction.
func (s *session) close(ctx context.Context) {
	if s.txn != nil {
		_ = s.txn.Discard(ctx)
		s.txn = nil
	}
}
