// Package linkcheck probes resource URLs for liveness with bounded concurrency.
package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidOptions is returned by New when the options fail validation
var ErrInvalidOptions = errors.New("invalid link check options")

// Item is one link to check
type Item struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Options controls a link check run
type Options struct {
	// Timeout bounds each request, including reading the response headers
	Timeout time.Duration `validate:"gt=0"`
	// Concurrency is the batch size; batches run one after another
	Concurrency int `validate:"min=1,max=100"`
	// RetryCount is the number of retries after a transport failure
	RetryCount int `validate:"min=0,max=10"`
	// RetryDelay is the base of the exponential backoff between retries
	RetryDelay    time.Duration `validate:"gte=0"`
	SlowThreshold time.Duration `validate:"gte=0"`
	UserAgent     string
	// HTTPClient overrides the client used for requests. Its redirect policy is replaced.
	HTTPClient *http.Client `validate:"-"`
}

// DefaultOptions returns the default settings: 10s timeout, 5 links at a
// time, 2 retries, and links slower than 5s reported as slow.
func DefaultOptions() Options {
	return Options{
		Timeout:       10 * time.Second,
		Concurrency:   5,
		RetryCount:    2,
		RetryDelay:    500 * time.Millisecond,
		SlowThreshold: 5 * time.Second,
		UserAgent:     "awesome-sync-linkcheck/1.0",
	}
}

// Status classes used in Summary.ByStatus
const (
	ClassSkipped = "skipped"
	ClassError   = "error"
)

// LinkResult is the outcome of checking one link
type LinkResult struct {
	URL          string        `json:"url"`
	Title        string        `json:"title,omitempty"`
	ID           string        `json:"id,omitempty"`
	Status       int           `json:"status,omitempty"`
	Method       string        `json:"method,omitempty"`
	Valid        bool          `json:"valid"`
	Redirect     bool          `json:"redirect,omitempty"`
	Location     string        `json:"location,omitempty"`
	Error        string        `json:"error,omitempty"`
	Skipped      bool          `json:"skipped,omitempty"`
	Attempts     int           `json:"attempts"`
	ResponseTime time.Duration `json:"responseTime"`
}

// Broken reports whether the server answered with a 4xx or 5xx status
func (r LinkResult) Broken() bool {
	return r.Status >= 400
}

// Class returns the histogram bucket for the result: "2xx" .. "5xx", "error" or "skipped"
func (r LinkResult) Class() string {
	switch {
	case r.Skipped:
		return ClassSkipped
	case r.Status == 0:
		return ClassError
	default:
		return fmt.Sprintf("%dxx", r.Status/100)
	}
}

// Summary aggregates a report
type Summary struct {
	ByStatus            map[string]int `json:"byStatus"`
	AverageResponseTime time.Duration  `json:"averageResponseTime"`
}

// Report is the outcome of a link check run
type Report struct {
	TotalLinks  int          `json:"totalLinks"`
	ValidLinks  int          `json:"validLinks"`
	BrokenLinks int          `json:"brokenLinks"`
	Redirects   int          `json:"redirects"`
	Errors      int          `json:"errors"`
	Results     []LinkResult `json:"results"`
	Summary     Summary      `json:"summary"`
	Timestamp   time.Time    `json:"timestamp"`

	// SlowThreshold is the response time above which a link is reported as slow
	SlowThreshold time.Duration `json:"slowThreshold"`
}

// Checker probes links
type Checker struct {
	opts   Options
	client *http.Client
}

// New validates opts and creates a checker
func New(opts Options) (*Checker, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	client := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	// Redirects are reported, not followed
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Checker{opts: opts, client: client}, nil
}

// Check probes every item and aggregates the results. Items are processed
// in fixed-size batches of Options.Concurrency; a batch finishes before the
// next starts. Per-link failures are reported in the results, never returned.
func (c *Checker) Check(ctx context.Context, items []Item) *Report {
	results := make([]LinkResult, len(items))
	total := len(items)

	log.Info().Int("links", total).Int("concurrency", c.opts.Concurrency).Msg("checking links")

	processed := 0
	lastProgressUpdate := time.Now()
	progressInterval := 5 * time.Second

	for start := 0; start < total; start += c.opts.Concurrency {
		end := start + c.opts.Concurrency
		if end > total {
			end = total
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = c.checkOne(ctx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		processed = end
		if processed == total || time.Since(lastProgressUpdate) >= progressInterval {
			log.Info().Int("processed", processed).Int("total", total).
				Float64("percent", float64(processed)/float64(total)*100).
				Msg("link check progress")
			lastProgressUpdate = time.Now()
		}
	}

	report := buildReport(results)
	report.SlowThreshold = c.opts.SlowThreshold

	log.Info().
		Int("valid", report.ValidLinks).
		Int("broken", report.BrokenLinks).
		Int("redirects", report.Redirects).
		Int("errors", report.Errors).
		Msg("link check finished")

	return report
}

func (c *Checker) checkOne(ctx context.Context, item Item) LinkResult {
	result := LinkResult{URL: item.URL, Title: item.Title, ID: item.ID}

	u, err := url.Parse(strings.TrimSpace(item.URL))
	if err != nil {
		result.Error = fmt.Sprintf("invalid url: %v", err)
		return result
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		result.Error = "url has no scheme"
		return result
	default:
		result.Valid = true
		result.Skipped = true
		return result
	}

	start := time.Now()
	status, location, attempts, err := c.probe(ctx, http.MethodHead, u.String())
	result.Method = http.MethodHead
	result.Attempts = attempts

	// HEAD is not always supported; anything but a server error gets a second chance with GET
	if err != nil || (status >= 400 && status < 500) {
		var getAttempts int
		status, location, getAttempts, err = c.probe(ctx, http.MethodGet, u.String())
		result.Method = http.MethodGet
		result.Attempts += getAttempts
	}
	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Status = status
	result.Valid = status >= 200 && status < 400
	if status >= 300 && status < 400 {
		result.Redirect = true
		result.Location = location
	}
	return result
}

type response struct {
	status   int
	location string
}

// probe issues one request, retrying transport failures with exponential backoff
func (c *Checker) probe(ctx context.Context, method, target string) (int, string, int, error) {
	attempts := 0
	resp, err := retry.DoWithData(
		func() (response, error) {
			attempts++
			return c.do(ctx, method, target)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.opts.RetryCount)+1),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Str("url", target).Str("method", method).Uint("attempt", n+1).Err(err).Msg("retrying link")
		}),
	)
	if err != nil {
		return 0, "", attempts, err
	}
	return resp.status, resp.location, attempts, nil
}

func (c *Checker) do(ctx context.Context, method, target string) (response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return response{}, retry.Unrecoverable(err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	if method == http.MethodGet {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	}

	return response{status: resp.StatusCode, location: resp.Header.Get("Location")}, nil
}

func buildReport(results []LinkResult) *Report {
	report := &Report{
		TotalLinks: len(results),
		Results:    results,
		Summary:    Summary{ByStatus: make(map[string]int)},
		Timestamp:  time.Now().UTC(),
	}

	var totalTime time.Duration
	timed := 0
	for _, r := range results {
		report.Summary.ByStatus[r.Class()]++
		switch {
		case r.Valid:
			report.ValidLinks++
			if r.Redirect {
				report.Redirects++
			}
		case r.Broken():
			report.BrokenLinks++
		default:
			report.Errors++
		}
		if !r.Skipped && r.ResponseTime > 0 {
			totalTime += r.ResponseTime
			timed++
		}
	}
	if timed > 0 {
		report.Summary.AverageResponseTime = totalTime / time.Duration(timed)
	}
	return report
}
