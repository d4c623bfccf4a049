package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	backoff "github.com/cenkalti/backoff/v3"

	"github.com/nayiswftw/Rusbit/internal/bencode"
	"github.com/nayiswftw/Rusbit/internal/logger"
)

// HTTPTracker announces to a single HTTP(S) tracker URL.
type HTTPTracker struct {
	url    string
	client *http.Client
	log    logger.Logger
}

// NewHTTPTracker returns a tracker client for announceURL.
func NewHTTPTracker(announceURL string) (*HTTPTracker, error) {
	if announceURL == "" {
		return nil, errNoAnnounceURL
	}
	if _, err := url.Parse(announceURL); err != nil {
		return nil, fmt.Errorf("tracker: invalid announce URL: %w", err)
	}
	return &HTTPTracker{
		url:    announceURL,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger.New("tracker"),
	}, nil
}

// Announce performs the HTTP GET announce, retrying transient failures
// with exponential backoff (github.com/cenkalti/backoff/v3) before
// surfacing ErrHTTP.
func (t *HTTPTracker) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("tracker: invalid announce URL: %w", err)
	}
	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.Itoa(req.Port))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	u.RawQuery = q.Encode()

	var body []byte
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err = backoff.Retry(func() error {
		b, ferr := t.fetch(ctx, u.String())
		if ferr != nil {
			t.log.Debugln("announce attempt failed:", ferr)
			return ferr
		}
		body = b
		return nil
	}, policy)
	if err != nil {
		return nil, &ErrHTTP{Err: err}
	}

	root, err := bencode.DecodeAll(body)
	if err != nil {
		return nil, &ErrBencoded{Err: err}
	}
	if reason, ok := root.Get("failure reason"); ok && reason.IsString() {
		return nil, &ErrFailureReason{Reason: string(reason.Str)}
	}

	resp := &AnnounceResponse{}
	if interval, ok := root.Get("interval"); ok && interval.IsInteger() {
		resp.Interval = time.Duration(interval.Int) * time.Second
	}
	if peersVal, ok := root.Get("peers"); ok {
		peers, err := decodePeers(peersVal)
		if err != nil {
			return nil, &ErrBencoded{Err: err}
		}
		resp.Peers = peers
	}
	return resp, nil
}

func (t *HTTPTracker) fetch(ctx context.Context, reqURL string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tracker returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// URL returns the announce URL.
func (t *HTTPTracker) URL() string { return t.url }
