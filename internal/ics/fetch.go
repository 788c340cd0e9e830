package ics

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"assignbot/internal/apperr"
	appLog "assignbot/internal/log"
)

const defaultTimeout = 15 * time.Second

// maxFeedBytes bounds how much of a response body is read.
const maxFeedBytes = 32 << 20

// Fetcher downloads the calendar export of the learning platform. The
// credential is a token appended to the feed URL, the way the export links
// are issued.
type Fetcher struct {
	client *http.Client
	url    string
	token  string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the default client (15s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// NewFetcher creates a Fetcher for baseURL+token.
func NewFetcher(baseURL, token string, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		url:   baseURL,
		token: token,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs one GET of the feed. Every failure is tagged
// apperr.TagFetch.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if f.url == "" {
		return nil, goerr.New("feed URL is empty", goerr.T(apperr.TagFetch))
	}
	address := f.url + f.token

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build feed request",
			goerr.V("url", redactURL(address)), goerr.T(apperr.TagFetch))
	}
	req.Header.Set("Accept", "text/calendar")

	appLog.Info("ics fetch start", "url", redactURL(address))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch feed",
			goerr.V("url", redactURL(address)), goerr.T(apperr.TagFetch))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("unexpected feed status",
			goerr.V("url", redactURL(address)),
			goerr.V("status", resp.StatusCode),
			goerr.T(apperr.TagFetch))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read feed body",
			goerr.V("url", redactURL(address)), goerr.T(apperr.TagFetch))
	}
	if len(body) == 0 {
		return nil, goerr.New("empty feed body",
			goerr.V("url", redactURL(address)), goerr.T(apperr.TagFetch))
	}

	appLog.Info("ics fetch success", "url", redactURL(address), "status", resp.StatusCode, "bytes", len(body))
	return body, nil
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
func redactURL(u string) string {
	// Example:
	//   https://example.com/path/to/private.ics?token=abcd
	// -> https://example.com/...(redacted)
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}

	return u[:j] + redactedSuffix
}
