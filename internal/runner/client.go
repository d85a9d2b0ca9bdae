package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// RejectedError reports a fault trigger declined by the target's guardrail.
type RejectedError struct {
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("fault trigger rejected: %s", e.Detail)
}

// Client wraps the chaos engine's HTTP surface for the campaign runner.
// Trigger calls tolerate dropped connections and timeouts, which are expected
// while the target is under fault.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a client targeting the given chaos engine instance.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health probes liveness. Any 200 means alive.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %s", resp.Status)
	}
	return nil
}

// Ready probes readiness. 200 means ready, 503 means not ready; anything
// else is an error.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, "/ready")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusServiceUnavailable:
		return false, nil
	default:
		return false, fmt.Errorf("ready returned %s", resp.Status)
	}
}

// Status fetches the full engine snapshot.
func (c *Client) Status(ctx context.Context) (models.StatusSnapshot, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return models.StatusSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.StatusSnapshot{}, fmt.Errorf("status returned %s", resp.Status)
	}
	var snap models.StatusSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return models.StatusSnapshot{}, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

// Metrics fetches the raw Prometheus text exposition.
func (c *Client) Metrics(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, "/metrics")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read metrics body: %w", err)
	}
	return body, nil
}

// TriggerCPU starts a CPU saturation burst on the target. Zero values leave
// the target's configured defaults in effect.
func (c *Client) TriggerCPU(ctx context.Context, duration time.Duration, workers int) error {
	params := url.Values{}
	if duration > 0 {
		params.Set("duration", formatSeconds(duration))
	}
	if workers > 0 {
		params.Set("workers", strconv.Itoa(workers))
	}
	return c.trigger(ctx, "/load/cpu", params)
}

// TriggerMemory starts memory pressure on the target.
func (c *Client) TriggerMemory(ctx context.Context, megabytes int, hold time.Duration) error {
	params := url.Values{}
	if megabytes > 0 {
		params.Set("mb", strconv.Itoa(megabytes))
	}
	if hold > 0 {
		params.Set("hold", formatSeconds(hold))
	}
	return c.trigger(ctx, "/load/memory", params)
}

// TriggerCrash schedules a crash on the target.
func (c *Client) TriggerCrash(ctx context.Context, delay time.Duration) error {
	params := url.Values{}
	if delay > 0 {
		params.Set("delay", formatSeconds(delay))
	}
	return c.trigger(ctx, "/crash", params)
}

// trigger posts an injection request. Transport failures are swallowed: a
// connection cut mid-request usually means the fault landed.
func (c *Client) trigger(ctx context.Context, p string, params url.Values) error {
	endpoint := c.baseURL + p
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil
	case http.StatusTooManyRequests:
		var body struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			body.Detail = resp.Status
		}
		return &RejectedError{Detail: body.Detail}
	default:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("trigger %s returned %s", p, resp.Status)
	}
}

func (c *Client) get(ctx context.Context, p string) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("target base URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+p, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
