// Package o11y is the observability query capability: Prometheus range
// queries and Loki log queries over their JSON HTTP APIs. The Investigator
// uses it to pull metric and log context around an incident; endpoints left
// unconfigured disable the corresponding queries.
package o11y

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// QueryResult is the outcome of one backend query. Failures are carried
// in-band: an unreachable backend degrades the investigation, it does not
// fail the stage.
type QueryResult struct {
	Query   string   `json:"query"`
	Source  string   `json:"source"` // prometheus, loki
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Records []Record `json:"records,omitempty"`
}

// Record is one series or log stream returned by a query.
type Record struct {
	Labels map[string]string `json:"labels,omitempty"`
	Values []Sample          `json:"values,omitempty"`
}

// Sample is one timestamped value (a metric point or a log line).
type Sample struct {
	Time  time.Time `json:"time"`
	Value string    `json:"value"`
}

// Client queries observability backends.
type Client struct {
	prometheusURL string
	lokiURL       string
	http          *http.Client
}

// New creates a client. Empty URLs disable the matching backend.
func New(prometheusURL, lokiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		prometheusURL: prometheusURL,
		lokiURL:       lokiURL,
		http:          &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether at least one backend is configured.
func (c *Client) Enabled() bool {
	return c.prometheusURL != "" || c.lokiURL != ""
}

// QueryMetrics runs a PromQL range query. Defaults: the last hour at 1m step.
func (c *Client) QueryMetrics(ctx context.Context, query string, start, end time.Time, step string) QueryResult {
	res := QueryResult{Query: query, Source: "prometheus"}
	if c.prometheusURL == "" {
		res.Error = "prometheus URL not configured"
		return res
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-time.Hour)
	}
	if step == "" {
		step = "1m"
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))
	params.Set("step", step)

	var body struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Metric map[string]string `json:"metric"`
				Values [][2]any          `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.prometheusURL+"/api/v1/query_range", params, &body); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = body.Status == "success"
	for _, r := range body.Data.Result {
		rec := Record{Labels: r.Metric}
		for _, v := range r.Values {
			rec.Values = append(rec.Values, promSample(v))
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// QueryLogs runs a LogQL query against Loki. Defaults: the last hour,
// at most limit lines (100 when zero).
func (c *Client) QueryLogs(ctx context.Context, query string, start, end time.Time, limit int) QueryResult {
	res := QueryResult{Query: query, Source: "loki"}
	if c.lokiURL == "" {
		res.Error = "loki URL not configured"
		return res
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.Add(-time.Hour)
	}
	if limit <= 0 {
		limit = 100
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))

	var body struct {
		Status string `json:"status"`
		Data   struct {
			Result []struct {
				Stream map[string]string `json:"stream"`
				Values [][2]string       `json:"values"`
			} `json:"result"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.lokiURL+"/loki/api/v1/query_range", params, &body); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = body.Status == "success"
	for _, r := range body.Data.Result {
		rec := Record{Labels: r.Stream}
		for _, v := range r.Values {
			rec.Values = append(rec.Values, lokiSample(v))
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func (c *Client) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// promSample decodes Prometheus's [unix_seconds, "value"] pair.
func promSample(v [2]any) Sample {
	var s Sample
	if ts, ok := v[0].(float64); ok {
		s.Time = time.Unix(int64(ts), 0).UTC()
	}
	if val, ok := v[1].(string); ok {
		s.Value = val
	}
	return s
}

// lokiSample decodes Loki's ["unix_nanos", "line"] pair.
func lokiSample(v [2]string) Sample {
	var s Sample
	if ns, err := strconv.ParseInt(v[0], 10, 64); err == nil {
		s.Time = time.Unix(0, ns).UTC()
	}
	s.Value = v[1]
	return s
}
