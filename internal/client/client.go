package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"apply-coordinator/internal/domain"
	"apply-coordinator/internal/domain/model"
)

// Site mirrors the coordinator's wire shape of a registry record.
type Site struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Pattern       string     `json:"pattern,omitempty"`
	Enabled       bool       `json:"enabled"`
	LockedBy      string     `json:"lockedBy,omitempty"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`
	Completed     bool       `json:"completed"`
	Failed        bool       `json:"failed"`
	FailCount     int        `json:"failCount"`
	LastError     string     `json:"lastError,omitempty"`
}

// QueueItem mirrors the coordinator's wire shape of a queued form-fill job.
type QueueItem struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	JobID      string          `json:"jobId"`
	JobURL     string          `json:"jobUrl"`
	Status     string          `json:"status"`
	FilledData json.RawMessage `json:"filledData,omitempty"`
	Logs       *model.FillLogs `json:"logs,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// JobListing is a scraped listing a scrape worker reports back to the
// coordinator.
type JobListing struct {
	SiteID  string `json:"siteId,omitempty"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Company string `json:"company,omitempty"`
}

// Client is a thin JSON client for the coordinator API, used by scrape and
// form-fill workers to lease work and report outcomes.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return domain.ErrNotFound
		case http.StatusBadRequest:
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, bytes.TrimSpace(msg))
		case http.StatusConflict:
			return domain.ErrLeaseMismatch
		default:
			return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
		}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// LeaseSite claims the oldest eligible site. Returns (nil, nil) when the
// registry has nothing to hand out.
func (c *Client) LeaseSite(ctx context.Context, workerID string, lockTTL time.Duration) (*Site, error) {
	req := map[string]interface{}{"workerId": workerID}
	if lockTTL > 0 {
		req["lockSeconds"] = int(lockTTL.Seconds())
	}
	var site *Site
	if err := c.do(ctx, http.MethodPost, "/api/v1/sites/lease", req, &site); err != nil {
		return nil, err
	}
	return site, nil
}

func (c *Client) CompleteSite(ctx context.Context, id, workerID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sites/complete",
		map[string]string{"id": id, "workerId": workerID}, nil)
}

func (c *Client) ReleaseSite(ctx context.Context, id, workerID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sites/release",
		map[string]string{"id": id, "workerId": workerID}, nil)
}

func (c *Client) FailSite(ctx context.Context, id, workerID, errMsg string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sites/fail",
		map[string]string{"id": id, "workerId": workerID, "error": errMsg}, nil)
}

func (c *Client) RetrySite(ctx context.Context, id string, clearError bool) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sites/retry",
		map[string]interface{}{"id": id, "clearError": clearError}, nil)
}

// StoreJobs reports a batch of scraped listings, the scrape-run output
// that feeds the enqueue candidate pool. Returns how many were stored.
func (c *Client) StoreJobs(ctx context.Context, jobs []JobListing) (int, error) {
	var resp struct {
		Stored int `json:"stored"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs",
		map[string]interface{}{"jobs": jobs}, &resp)
	return resp.Stored, err
}

// LeaseNextItem claims the oldest pending queue item, or (nil, nil) when
// the queue is drained.
func (c *Client) LeaseNextItem(ctx context.Context) (*QueueItem, error) {
	var item *QueueItem
	if err := c.do(ctx, http.MethodPost, "/api/v1/queue/lease", struct{}{}, &item); err != nil {
		return nil, err
	}
	return item, nil
}

func (c *Client) CompleteItem(ctx context.Context, id string, filledData json.RawMessage, logs *model.FillLogs) error {
	return c.do(ctx, http.MethodPost, "/api/v1/queue/complete", map[string]interface{}{
		"id":         id,
		"filledData": filledData,
		"logs":       logs,
	}, nil)
}

func (c *Client) FailItem(ctx context.Context, id, errMsg string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/queue/fail",
		map[string]string{"id": id, "error": errMsg}, nil)
}

func (c *Client) RetryItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/queue/retry",
		map[string]string{"id": id}, nil)
}

func (c *Client) ResetStale(ctx context.Context, maxAge time.Duration) (int, error) {
	var resp struct {
		Reset int `json:"reset"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/queue/reset-stale",
		map[string]int{"maxAgeSeconds": int(maxAge.Seconds())}, &resp)
	return resp.Reset, err
}

func (c *Client) Enqueue(ctx context.Context, userID string, limit int, onlyUnqueued bool) (int, error) {
	var resp struct {
		Inserted int `json:"inserted"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/queue/enqueue", map[string]interface{}{
		"userId":       userID,
		"limit":        limit,
		"onlyUnqueued": onlyUnqueued,
	}, &resp)
	return resp.Inserted, err
}

func (c *Client) History(ctx context.Context, userID string, limit int) ([]*QueueItem, error) {
	var resp struct {
		Data []*QueueItem `json:"data"`
	}
	q := url.Values{"userId": {userID}, "limit": {strconv.Itoa(limit)}}
	path := "/api/v1/queue/history?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
