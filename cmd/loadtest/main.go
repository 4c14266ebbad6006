package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Queries     []string
	Limit       int
}

// tally collects one worker's results; workers never share a tally, so it
// needs no locking until merge.
type tally struct {
	requests  int
	succeeded int
	failed    int
	hits      int
	latencies []time.Duration
	statuses  map[int]int
}

func newTally() *tally {
	return &tally{statuses: make(map[int]int)}
}

func (t *tally) record(elapsed time.Duration, status, hits int, err error) {
	t.requests++
	if err != nil {
		t.failed++
		return
	}
	t.statuses[status]++
	t.latencies = append(t.latencies, elapsed)
	if status < 200 || status >= 300 {
		t.failed++
		return
	}
	t.succeeded++
	t.hits += hits
}

func (t *tally) merge(other *tally) {
	t.requests += other.requests
	t.succeeded += other.succeeded
	t.failed += other.failed
	t.hits += other.hits
	t.latencies = append(t.latencies, other.latencies...)
	for code, n := range other.statuses {
		t.statuses[code] += n
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.IntP("concurrency", "c", 10, "number of concurrent workers")
	duration := flag.DurationP("duration", "d", 30*time.Second, "test duration")
	limit := flag.Int("limit", 0, "use /api/v1/search with this limit instead of /search")
	queries := flag.StringSlice("query", []string{
		"cats",
		"dogs",
		"united states",
		"computer science",
		"history of europe",
		"music OR film",
		"program*",
		"river -mississippi",
		"olympic games",
		"world war",
		"the",
		"quantum physics",
	}, "queries to cycle through (repeatable)")
	flag.Parse()
	if len(*queries) == 0 || *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "at least one query and one worker are required")
		os.Exit(2)
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Queries:     *queries,
		Limit:       *limit,
	}

	fmt.Println("=== Web Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	printReport(runLoadTest(cfg), cfg.Duration)
}

func runLoadTest(cfg Config) *tally {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	results := make(chan *tally, cfg.Concurrency)
	var completed atomic.Int64
	for w := range cfg.Concurrency {
		go func() {
			results <- worker(ctx, client, cfg, w, &completed)
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	total := newTally()
	for pending := cfg.Concurrency; pending > 0; {
		select {
		case t := <-results:
			total.merge(t)
			pending--
		case <-ticker.C:
			fmt.Printf("  %d requests\n", completed.Load())
		}
	}
	fmt.Println()
	return total
}

// worker cycles through the queries starting at offset until ctx ends.
func worker(ctx context.Context, client *http.Client, cfg Config, offset int, completed *atomic.Int64) *tally {
	t := newTally()
	for i := offset; ctx.Err() == nil; i++ {
		query := cfg.Queries[i%len(cfg.Queries)]
		start := time.Now()
		status, hits, err := search(ctx, client, cfg, query)
		if ctx.Err() != nil {
			break
		}
		t.record(time.Since(start), status, hits, err)
		completed.Add(1)
	}
	return t
}

func search(ctx context.Context, client *http.Client, cfg Config, query string) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.searchURL(query), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, 0, nil
	}
	hits, err := countHits(resp.Body, cfg.Limit > 0)
	return resp.StatusCode, hits, err
}

func (c Config) searchURL(query string) string {
	if c.Limit > 0 {
		return fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", c.BaseURL, url.QueryEscape(query), c.Limit)
	}
	return fmt.Sprintf("%s/search?query=%s", c.BaseURL, url.QueryEscape(query))
}

// countHits reads the number of results from a search response body.
func countHits(body io.Reader, full bool) (int, error) {
	if full {
		var res struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.NewDecoder(body).Decode(&res); err != nil {
			return 0, err
		}
		return len(res.Results), nil
	}
	var hits []json.RawMessage
	if err := json.NewDecoder(body).Decode(&hits); err != nil {
		return 0, err
	}
	return len(hits), nil
}

func printReport(t *tally, duration time.Duration) {
	fmt.Println("=== Results ===")
	fmt.Printf("Requests:        %d (%.2f/sec)\n", t.requests, float64(t.requests)/duration.Seconds())
	fmt.Printf("Succeeded:       %d\n", t.succeeded)
	fmt.Printf("Failed:          %d\n", t.failed)
	if t.requests == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
	fmt.Printf("Failure rate:    %.2f%%\n", float64(t.failed)/float64(t.requests)*100)
	if t.succeeded > 0 {
		fmt.Printf("Hits/response:   %.1f\n", float64(t.hits)/float64(t.succeeded))
	}

	if lat := t.latencies; len(lat) > 0 {
		slices.Sort(lat)
		var sum time.Duration
		for _, l := range lat {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Mean:   %s\n", sum/time.Duration(len(lat)))
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Printf("P%-5.0f %s\n", p, percentile(lat, p))
		}
		fmt.Printf("Max:    %s\n", lat[len(lat)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := slices.Sorted(maps.Keys(t.statuses))
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, t.statuses[code])
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}
