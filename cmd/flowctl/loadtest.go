package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/run"
	"github.com/awmpietro/policy-flow/internal/transport/flowdto"
)

type loadOptions struct {
	url      string
	rps      int
	duration time.Duration
	workers  int
	timeout  time.Duration
	maxP90   time.Duration
	minRate  float64
	input    string
}

type loadSummary struct {
	TargetRPS   int                     `json:"targetRps"`
	AchievedRPS float64                 `json:"achievedRps"`
	Requests    int                     `json:"requests"`
	Errors      int                     `json:"errors"`
	Statuses    map[int]int             `json:"statuses"`
	NonOK       int                     `json:"non200"`
	Terminated  map[run.Termination]int `json:"terminated"`
	Terminals   map[string]int          `json:"terminals"`
	Passed      int                     `json:"passed"`
	Failed      int                     `json:"failed"`
	Unchecked   int                     `json:"unchecked"`
	Latency     latencySummary          `json:"latencyMs"`
}

type latencySummary struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

func newLoadTestCmd() *cobra.Command {
	opts := &loadOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest <flow-file>",
		Short: "Drive a running server's /flows/run at a fixed rate",
		Long: `Posts the flow with each of its stored tests in turn (or one --input) to
/flows/run at --rps for --duration, then reports latency percentiles and how
the runs ended: termination reasons, terminal nodes and test verdicts.

Fails when a request errors, a status is not 200, a verdict fails, the p90
latency is above --max-p90 or the achieved rate is below --min-rate of target.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.rps <= 0 || opts.duration <= 0 || opts.workers <= 0 {
				return fmt.Errorf("rps, duration and workers must be > 0")
			}

			bodies, err := opts.bodies(args[0])
			if err != nil {
				return err
			}

			summary := opts.drive(cmd.Context(), bodies)
			if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			return opts.check(summary)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080", "base URL of the flow server")
	f.IntVar(&opts.rps, "rps", 50, "target requests per second")
	f.DurationVar(&opts.duration, "duration", time.Minute, "how long to keep sending")
	f.IntVar(&opts.workers, "workers", 50, "maximum requests in flight")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")
	f.DurationVar(&opts.maxP90, "max-p90", 30*time.Millisecond, "highest acceptable p90 latency")
	f.Float64Var(&opts.minRate, "min-rate", 0.98, "lowest acceptable achieved/target rate ratio")
	f.StringVar(&opts.input, "input", "", "JSON object for every run instead of the stored tests")
	return cmd
}

// bodies encodes one run request per test to send, cycled in order.
func (o *loadOptions) bodies(path string) ([][]byte, error) {
	req, stored, err := flowRequest(path)
	if err != nil {
		return nil, err
	}

	tests := stored
	if o.input != "" || len(tests) == 0 {
		tests = []flow.Test{{Name: "load", Input: flow.Payload(o.input)}}
	}

	out := make([][]byte, 0, len(tests))
	for _, t := range tests {
		t.Result = nil
		b, err := json.Marshal(flowdto.RunRequest{FlowRequest: req, Test: &t})
		if err != nil {
			return nil, fmt.Errorf("encode run request: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

type sample struct {
	latency time.Duration
	status  int
	resp    *flowdto.RunResponse
	err     error
}

func (o *loadOptions) drive(ctx context.Context, bodies [][]byte) loadSummary {
	endpoint := strings.TrimRight(o.url, "/") + "/flows/run"
	client := &http.Client{Timeout: o.timeout}

	var (
		mu      sync.Mutex
		samples []sample
	)
	var g errgroup.Group
	g.SetLimit(o.workers)

	sending, stop := context.WithTimeout(ctx, o.duration)
	defer stop()
	ticker := time.NewTicker(time.Second / time.Duration(o.rps))
	defer ticker.Stop()

	began := time.Now()
send:
	for i := 0; ; i++ {
		select {
		case <-sending.Done():
			break send
		case <-ticker.C:
		}
		body := bodies[i%len(bodies)]
		g.Go(func() error {
			s := post(ctx, client, endpoint, body)
			mu.Lock()
			samples = append(samples, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return summarize(samples, o.rps, time.Since(began))
}

func post(ctx context.Context, client *http.Client, url string, body []byte) sample {
	began := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sample{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(began), err: err}
	}
	defer resp.Body.Close()

	s := sample{status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		var out flowdto.RunResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			s.err = fmt.Errorf("decode run response: %w", err)
		} else {
			s.resp = &out
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	s.latency = time.Since(began)
	return s
}

func summarize(samples []sample, target int, elapsed time.Duration) loadSummary {
	sum := loadSummary{
		TargetRPS:  target,
		Requests:   len(samples),
		Statuses:   map[int]int{},
		Terminated: map[run.Termination]int{},
		Terminals:  map[string]int{},
	}
	if elapsed > 0 {
		sum.AchievedRPS = float64(len(samples)) / elapsed.Seconds()
	}

	latencies := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		latencies = append(latencies, s.latency)
		if s.err != nil {
			sum.Errors++
		}
		if s.status != 0 {
			sum.Statuses[s.status]++
			if s.status != http.StatusOK {
				sum.NonOK++
			}
		}
		if s.resp == nil {
			continue
		}

		res := s.resp.Report.Result
		sum.Terminated[res.Terminated]++
		if res.TerminalNode != "" {
			sum.Terminals[res.TerminalNode]++
		}
		switch {
		case !s.resp.Report.Expected.IsSet():
			sum.Unchecked++
		case s.resp.Report.Passed:
			sum.Passed++
		default:
			sum.Failed++
		}
	}
	sum.Latency = latencyOf(latencies)
	return sum
}

func latencyOf(ds []time.Duration) latencySummary {
	if len(ds) == 0 {
		return latencySummary{}
	}
	slices.Sort(ds)

	var total time.Duration
	for _, d := range ds {
		total += d
	}
	at := func(q float64) float64 { return millis(ds[int(q*float64(len(ds)-1))]) }
	return latencySummary{
		Avg: millis(total / time.Duration(len(ds))),
		P50: at(0.50),
		P90: at(0.90),
		P99: at(0.99),
		Max: millis(ds[len(ds)-1]),
	}
}

func millis(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

func (o *loadOptions) check(s loadSummary) error {
	var problems []string
	if s.Requests == 0 {
		problems = append(problems, "no requests completed")
	}
	if s.Errors > 0 {
		problems = append(problems, fmt.Sprintf("%d request error(s)", s.Errors))
	}
	if s.NonOK > 0 {
		problems = append(problems, fmt.Sprintf("%d non-200 answer(s)", s.NonOK))
	}
	if s.Failed > 0 {
		problems = append(problems, fmt.Sprintf("%d failed verdict(s)", s.Failed))
	}
	if p90 := time.Duration(s.Latency.P90 * float64(time.Millisecond)); p90 > o.maxP90 {
		problems = append(problems, fmt.Sprintf("p90 %s above %s", p90, o.maxP90))
	}
	if s.AchievedRPS < float64(o.rps)*o.minRate {
		problems = append(problems, fmt.Sprintf("achieved %.2f rps, want at least %.2f", s.AchievedRPS, float64(o.rps)*o.minRate))
	}
	if len(problems) > 0 {
		return fmt.Errorf("load test failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
