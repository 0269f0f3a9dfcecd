package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"chatrank/domain"
)

const (
	// DefaultDirectoryURL is the Twitch Helix users endpoint.
	DefaultDirectoryURL = "https://api.twitch.tv/helix/users"

	// directoryBatchLimit is the Helix cap on ids per request; larger miss
	// lists are chunked, one request per chunk.
	directoryBatchLimit = 100

	directoryTimeout = 10 * time.Second
)

// Credentials carry the directory client id and bearer token, normally read
// from the environment.
type Credentials struct {
	ClientID string
	Token    string
}

// DirectoryClient looks identities up on the external directory service.
type DirectoryClient struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	batchLimit int
}

// DirectoryOption tweaks a DirectoryClient.
type DirectoryOption func(*DirectoryClient)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) DirectoryOption {
	return func(d *DirectoryClient) { d.httpClient = c }
}

// WithBatchLimit overrides the per-request id cap, mainly for tests.
func WithBatchLimit(n int) DirectoryOption {
	return func(d *DirectoryClient) {
		if n > 0 {
			d.batchLimit = n
		}
	}
}

// NewDirectoryClient creates a directory client for the given endpoint.
// An empty baseURL selects the default endpoint.
func NewDirectoryClient(baseURL string, creds Credentials, opts ...DirectoryOption) *DirectoryClient {
	if baseURL == "" {
		baseURL = DefaultDirectoryURL
	}
	d := &DirectoryClient{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: directoryTimeout},
		batchLimit: directoryBatchLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type directoryUser struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

type directoryResponse struct {
	Data []directoryUser `json:"data"`
}

// Lookup fetches identities for the given ids, one request per chunk of at
// most the batch limit. Ids absent from the response mean "not found", not
// an error. Credential absence fails the whole call before any request.
func (d *DirectoryClient) Lookup(ctx context.Context, ids []string) (map[string]domain.Identity, error) {
	if d.creds.ClientID == "" {
		return nil, ConfigError{Missing: "directory client id"}
	}
	if d.creds.Token == "" {
		return nil, ConfigError{Missing: "directory bearer token"}
	}

	out := make(map[string]domain.Identity, len(ids))
	for start := 0; start < len(ids); start += d.batchLimit {
		chunk := ids[start:min(start+d.batchLimit, len(ids))]
		if err := d.lookupChunk(ctx, chunk, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *DirectoryClient) lookupChunk(ctx context.Context, ids []string, out map[string]domain.Identity) error {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return UnavailableError{Err: err}
	}
	req.Header.Set("Client-Id", d.creds.ClientID)
	req.Header.Set("Authorization", "Bearer "+d.creds.Token)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return UnavailableError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return UnavailableError{Err: fmt.Errorf("directory returned status %d", resp.StatusCode)}
	}

	var parsed directoryResponse
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return UnavailableError{Err: err}
	}
	for _, u := range parsed.Data {
		name := u.DisplayName
		if strings.TrimSpace(name) == "" {
			name = u.Login
		}
		out[u.ID] = domain.Identity{ID: u.ID, DisplayName: name, AvatarURL: u.ProfileImageURL}
	}
	return nil
}
