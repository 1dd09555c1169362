package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/client"
)

// benchResult summarizes one contention run.
type benchResult struct {
	Committed int
	Aborted   int
	Final     int
	Elapsed   time.Duration
	Latencies []time.Duration
}

func (r *benchResult) percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(r.Latencies)
	slices.Sort(sorted)
	i := int(p * float64(len(sorted)-1))
	return sorted[i]
}

func runBench(ctx context.Context, g *globalFlags, args []string, out io.Writer) error {
	fs := newFlagSet("bench", g, os.Stderr)
	workers := fs.Int("workers", 8, "concurrent transactions")
	txns := fs.Int("txns", 50, "increments per worker")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workers < 1 || *txns < 1 {
		return errors.New("workers and txns must be positive")
	}

	dg, release, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	res, err := benchCounter(ctx, dg, *workers, *txns)
	if err != nil {
		return err
	}

	secs := res.Elapsed.Seconds()
	if secs == 0 {
		secs = 1
	}
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d workers x %d increments", *workers, *txns)))
	fmt.Fprintln(out, boxStyle.Render(kv(
		"committed", fmt.Sprint(res.Committed),
		"aborted", fmt.Sprint(res.Aborted),
		"final", fmt.Sprint(res.Final),
		"elapsed", res.Elapsed.Round(time.Millisecond).String(),
		"txn/s", fmt.Sprintf("%.1f", float64(res.Committed)/secs),
		"p50", res.percentile(0.50).String(),
		"p95", res.percentile(0.95).String(),
		"p99", res.percentile(0.99).String(),
	)))
	if res.Final != res.Committed {
		return fmt.Errorf("lost updates: counter is %d after %d commits", res.Final, res.Committed)
	}
	return nil
}

// benchCounter creates a counter node and has workers increment it with
// read-modify-write transactions, retrying each increment until it commits.
func benchCounter(ctx context.Context, dg *client.Client, workers, perWorker int) (*benchResult, error) {
	ag, err := dg.NewTxn().Mutate(ctx, &api.Mutation{SetJson: []byte(`{"uid": "_:counter", "count": 0}`), CommitNow: true})
	if err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}
	uid := ag.Uids["counter"]
	q := fmt.Sprintf(`{ me(func: uid(%s)) { count } }`, uid)

	var (
		mu  sync.Mutex
		res benchResult
	)
	start := time.Now()
	eg, gctx := errgroup.WithContext(ctx)
	for range workers {
		eg.Go(func() error {
			for range perWorker {
				began := time.Now()
				aborts, err := increment(gctx, dg, q, uid)
				if err != nil {
					return err
				}
				mu.Lock()
				res.Committed++
				res.Aborted += aborts
				res.Latencies = append(res.Latencies, time.Since(began))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)

	final, err := readCounter(ctx, dg.NewReadOnlyTxn(), q)
	if err != nil {
		return nil, err
	}
	res.Final = final
	return &res, nil
}

// increment retries on abort and returns how many attempts were aborted.
func increment(ctx context.Context, dg *client.Client, q, uid string) (int, error) {
	for aborts := 0; ; aborts++ {
		txn := dg.NewTxn()
		n, err := readCounter(ctx, txn, q)
		if err == nil {
			set, _ := json.Marshal(map[string]any{"uid": uid, "count": n + 1})
			_, err = txn.Mutate(ctx, &api.Mutation{SetJson: set})
		}
		if err == nil {
			err = txn.Commit(ctx)
		}
		if err == nil {
			return aborts, nil
		}
		_ = txn.Discard(ctx)
		if !errors.Is(err, client.ErrAborted) {
			return aborts, err
		}
	}
}

func readCounter(ctx context.Context, txn *client.Txn, q string) (int, error) {
	resp, err := txn.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	var out struct {
		Me []struct {
			Count float64 `json:"count"`
		} `json:"me"`
	}
	if err := json.Unmarshal(resp.Json, &out); err != nil {
		return 0, err
	}
	if len(out.Me) != 1 {
		return 0, fmt.Errorf("counter node missing: %s", resp.Json)
	}
	return int(out.Me[0].Count), nil
}
