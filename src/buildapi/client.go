// Package buildapi provides a client for the buildapi self-serve service,
// the scheduling API jobs are queried from and triggered through.
package buildapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mozci/src/logger"
)

const (
	// HostRoot is the base URL for the self-serve API.
	HostRoot = "https://secure.pub.build.mozilla.org/buildapi/self-serve"

	// JobDataRoot is the base URL for the detailed per-request status
	// documents. This is a slower, secondary lookup.
	JobDataRoot = "https://secure.pub.build.mozilla.org/builddata/buildjson"

	defaultTimeout = 30 * time.Second
)

// Client is a self-serve API client.
type Client struct {
	user       string
	password   string
	httpClient *http.Client
	log        logger.Logger

	baseURL    string
	jobDataURL string
}

// NewClient creates a self-serve client authenticating with the given
// credentials. A zero timeout selects the default.
func NewClient(user, password string, timeout time.Duration, log logger.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:        log,
		baseURL:    HostRoot,
		jobDataURL: JobDataRoot,
	}
}

// SetHosts overrides the self-serve and job-data host roots. Empty values
// keep the current ones.
func (c *Client) SetHosts(baseURL, jobDataURL string) {
	if baseURL != "" {
		c.baseURL = baseURL
	}
	if jobDataURL != "" {
		c.jobDataURL = jobDataURL
	}
}

// ListJobs returns all scheduling records self-serve knows for a revision.
func (c *Client) ListJobs(ctx context.Context, repoName, revision string) ([]JobRecord, error) {
	u := fmt.Sprintf("%s/%s/rev/%s?format=json", c.baseURL, repoName, revision)
	c.log.Debug("About to fetch %s", u)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jobs for %s on %s: %w", revision, repoName, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s on %s", ErrRevisionNotSchedulable, revision, repoName)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("self-serve error %d: %s", resp.StatusCode, string(body))
	}

	var jobs []JobRecord
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decoding job list: %w", err)
	}
	return jobs, nil
}

// JobStatus fetches the detailed status document for a completed request.
// It fails with ErrMissingJobStatus when the lookup returns nothing and
// ErrMalformedJobStatus when the document lacks a properties section.
func (c *Client) JobStatus(ctx context.Context, completeAt, requestID int64) (*JobStatus, error) {
	u := fmt.Sprintf("%s/%d/%d?format=json", c.jobDataURL, completeAt, requestID)
	c.log.Debug("About to fetch %s", u)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching status for request %d: %w", requestID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: request %d returned %d",
			ErrMissingJobStatus, requestID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 || string(body) == "null" {
		return nil, fmt.Errorf("%w: empty document for request %d", ErrMissingJobStatus, requestID)
	}

	var status JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decoding job status: %w", err)
	}
	if status.Properties == nil {
		c.log.Error("Job status for request %d has no properties section", requestID)
		return nil, fmt.Errorf("%w: request %d", ErrMalformedJobStatus, requestID)
	}
	return &status, nil
}

// ListRepositories returns the repository catalog keyed by repository name.
func (c *Client) ListRepositories(ctx context.Context) (map[string]Repository, error) {
	u := fmt.Sprintf("%s/branches?format=json", c.baseURL)
	c.log.Debug("About to fetch %s", u)

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching repositories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("self-serve error %d: %s", resp.StatusCode, string(body))
	}

	var repos map[string]Repository
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, fmt.Errorf("decoding repositories: %w", err)
	}
	return repos, nil
}

// PostTrigger asks self-serve to schedule a job. The response is returned
// whether or not it was accepted so callers can report partial failures.
func (c *Client) PostTrigger(ctx context.Context, triggerURL string, payload url.Values) (*TriggerResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", triggerURL,
		strings.NewReader(payload.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting trigger to %s: %w", triggerURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Trigger response: status %d, body %s", resp.StatusCode, string(body))

	return &TriggerResponse{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}, nil
}

// AllReachable probes every URL with a HEAD request and reports whether all
// of them responded successfully. Artifacts have finite retention upstream;
// an unreachable URL means the file has expired.
func (c *Client) AllReachable(ctx context.Context, urls []string) bool {
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, "HEAD", u, nil)
		if err != nil {
			return false
		}
		req.SetBasicAuth(c.user, c.password)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Debug("URL %s is not reachable: %v", u, err)
			return false
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.log.Debug("URL %s returned %d", u, resp.StatusCode)
			return false
		}
	}
	return true
}

// TriggerURL builds the endpoint a trigger for (repo, builder, revision) is
// posted to.
func (c *Client) TriggerURL(repoName, builderName, revision string) string {
	return fmt.Sprintf("%s/%s/builders/%s/%s", c.baseURL, repoName, builderName, revision)
}

// ScheduleURL returns the page where a developer can log in and inspect the
// scheduled jobs for a revision.
func (c *Client) ScheduleURL(repoName, revision string) string {
	return fmt.Sprintf("%s/%s/rev/%s", c.baseURL, repoName, revision)
}
