package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/atrium-crm/chatcore/internal/store"
)

// Snapshot is one point-in-time REST fetch: the conversation list plus the
// authoritative unread counters.
type Snapshot struct {
	Conversations []store.Conversation `json:"conversations"`
	Unread        map[string]int       `json:"unread"`
}

// Fetcher abstracts the REST snapshot endpoint; tests script it.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// HTTPFetcher hits the chatd REST surface.
type HTTPFetcher struct {
	BaseURL string
	UserID  string
	Client  *http.Client
}

func NewHTTPFetcher(baseURL, userID string) *HTTPFetcher {
	return &HTTPFetcher{
		BaseURL: baseURL,
		UserID:  userID,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPFetcher) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	u := fmt.Sprintf("%s/api/conversations?userId=%s", f.BaseURL, url.QueryEscape(f.UserID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
