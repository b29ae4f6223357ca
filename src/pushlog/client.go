// Package pushlog queries the push-log service of a Mercurial repository
// for ordered revision history metadata.
//
// Per the pushlog documentation, queries go by push ID where possible:
// date ordering is not guaranteed due to system clock skew.
package pushlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"mozci/src/logger"
)

const defaultTimeout = 30 * time.Second

// Client is a json-pushes client. Unlike self-serve there is no single host;
// every query is made against a repository URL.
type Client struct {
	httpClient *http.Client
	log        logger.Logger
}

// NewClient creates a push-log client. A zero timeout selects the default.
func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	c.log.Debug("About to fetch %s", url)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pushlog error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding pushlog response: %w", err)
	}
	return nil
}

// RevisionInfo returns the push metadata for a revision. With full set, the
// changesets carry descriptions and authors, which is what the do-not-build
// check needs; it is a lot more output, so callers should avoid full where
// they can.
func (c *Client) RevisionInfo(ctx context.Context, repoURL, revision string, full bool) (*PushInfo, error) {
	url := fmt.Sprintf("%s/json-pushes?changeset=%s", repoURL, revision)
	if full {
		url += "&full=1"
	}

	var pushes map[string]*PushInfo
	if err := c.getJSON(ctx, url, &pushes); err != nil {
		return nil, err
	}
	if len(pushes) != 1 {
		return nil, fmt.Errorf("expected information about one push for %s, got %d",
			revision, len(pushes))
	}
	for id, push := range pushes {
		push.PushID = id
		return push, nil
	}
	return nil, nil // unreachable
}

type pushesResponse struct {
	Pushes map[string]PushInfo `json:"pushes"`
}

func sortedPushIDs(pushes map[string]PushInfo) []int {
	ids := make([]int, 0, len(pushes))
	for id := range pushes {
		n, err := strconv.Atoi(id)
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	sort.Ints(ids)
	return ids
}

// tips collects the 12 character tip revision of every push in push ID order.
func tips(pushes map[string]PushInfo) []string {
	var revisions []string
	for _, id := range sortedPushIDs(pushes) {
		push := pushes[strconv.Itoa(id)]
		if len(push.Changesets) == 0 {
			continue
		}
		revisions = append(revisions, ShortRev(push.Changesets[len(push.Changesets)-1].Node))
	}
	return revisions
}

// RevisionsRange returns the ordered list of revisions (oldest first)
// between two revisions. The starting revision is included even though
// json-pushes excludes it.
func (c *Client) RevisionsRange(ctx context.Context, repoURL, startRevision, endRevision string) ([]string, error) {
	url := fmt.Sprintf("%s/json-pushes?fromchange=%s&tochange=%s&version=2",
		repoURL, startRevision, endRevision)

	var resp pushesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	revisions := []string{startRevision}
	return append(revisions, tips(resp.Pushes)...), nil
}

// PushIDRange returns the ordered list of revisions (oldest first) between
// two push IDs, inclusive on both ends.
func (c *Client) PushIDRange(ctx context.Context, repoURL string, startID, endID int) ([]string, error) {
	// json-pushes skips startID, compensate with the off by one.
	url := fmt.Sprintf("%s/json-pushes?startID=%d&endID=%d&version=2&tipsonly=1",
		repoURL, startID-1, endID)

	var resp pushesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return tips(resp.Pushes), nil
}

// RangeFromRevisionAndDelta returns the revisions of the pushes surrounding
// a revision, delta pushes on either side.
func (c *Client) RangeFromRevisionAndDelta(ctx context.Context, repoURL, revision string, delta int) ([]string, error) {
	info, err := c.RevisionInfo(ctx, repoURL, revision, false)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve pushlog data for %s: %w", revision, err)
	}
	pushID, err := strconv.Atoi(info.PushID)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve pushlog data: bad push id %q", info.PushID)
	}
	return c.PushIDRange(ctx, repoURL, pushID-delta, pushID+delta)
}
