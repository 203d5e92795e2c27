package wayback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	ythttp "chronovista/http"
	"chronovista/internal/logger"
	"chronovista/youtube"
)

const (
	// DefaultCDXURL is the public CDX search endpoint.
	DefaultCDXURL = "https://web.archive.org/cdx/search/cdx"
	// DefaultArchiveURL is the base for archived page fetches.
	DefaultArchiveURL = "https://web.archive.org/web"

	// MaxSnapshots caps how many captures a query returns.
	MaxSnapshots = 20

	// DefaultCDXTimeout bounds one CDX query, retries included.
	DefaultCDXTimeout = 30 * time.Second

	cdxFields = "timestamp,original,mimetype,statuscode,digest,length"
)

// Fetcher performs GET requests. *ythttp.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*ythttp.Response, error)
}

// CDXClient lists archived captures of a video's watch page.
type CDXClient struct {
	http         Fetcher
	endpoint     string
	timeout      time.Duration
	maxSnapshots int
	cache        SnapshotCache
	log          logger.Logger
}

// CDXOption configures a CDXClient.
type CDXOption func(*CDXClient)

// WithCDXURL overrides the CDX endpoint.
func WithCDXURL(endpoint string) CDXOption {
	return func(c *CDXClient) {
		c.endpoint = endpoint
	}
}

// WithCDXTimeout bounds each query.
func WithCDXTimeout(d time.Duration) CDXOption {
	return func(c *CDXClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxSnapshots lowers the result cap. Values outside 1..MaxSnapshots
// are ignored.
func WithMaxSnapshots(n int) CDXOption {
	return func(c *CDXClient) {
		if n > 0 && n <= MaxSnapshots {
			c.maxSnapshots = n
		}
	}
}

// WithCache consults cache before querying the archive.
func WithCache(cache SnapshotCache) CDXOption {
	return func(c *CDXClient) {
		c.cache = cache
	}
}

// WithCDXLogger sets the logger.
func WithCDXLogger(l logger.Logger) CDXOption {
	return func(c *CDXClient) {
		if l != nil {
			c.log = l
		}
	}
}

// NewCDXClient creates a CDX client on top of an HTTP fetcher. The fetcher
// owns rate limiting and retries.
func NewCDXClient(fetcher Fetcher, opts ...CDXOption) *CDXClient {
	c := &CDXClient{
		http:         fetcher,
		endpoint:     DefaultCDXURL,
		timeout:      DefaultCDXTimeout,
		maxSnapshots: MaxSnapshots,
		log:          logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSnapshots returns up to the configured cap of HTML captures with
// status 200, deduplicated by digest and ordered newest first. No captures
// is an empty slice, not an error. A query that does not finish in time
// fails with an error wrapping ErrCDXTimeout.
func (c *CDXClient) FetchSnapshots(ctx context.Context, videoID string) ([]CDXSnapshot, error) {
	log := c.log.With(logger.String("video_id", videoID))

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, videoID)
		switch {
		case err != nil:
			log.Warn("snapshot cache read failed", logger.Error(err))
		case ok:
			log.Debug("snapshot cache hit", logger.Int("snapshots", len(cached)))
			return capSnapshots(cached, c.maxSnapshots), nil
		}
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.Get(queryCtx, c.queryURL(videoID))
	if err != nil {
		if ctx.Err() == nil && ythttp.IsTimeout(err) {
			return nil, fmt.Errorf("%w after %v: %v", ErrCDXTimeout, c.timeout, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &CDXError{VideoID: videoID, Err: err}
	}

	snapshots, err := parseCDX(resp.Body)
	if err != nil {
		return nil, &CDXError{VideoID: videoID, Err: err}
	}
	snapshots = capSnapshots(snapshots, c.maxSnapshots)

	log.Debug("cdx query complete", logger.Int("snapshots", len(snapshots)))

	if c.cache != nil && len(snapshots) > 0 {
		if err := c.cache.Set(ctx, videoID, snapshots); err != nil {
			log.Warn("snapshot cache write failed", logger.Error(err))
		}
	}
	return snapshots, nil
}

func (c *CDXClient) queryURL(videoID string) string {
	q := url.Values{}
	q.Set("url", youtube.WatchURL(videoID))
	q.Set("output", "json")
	q.Set("fl", cdxFields)
	q.Add("filter", "statuscode:200")
	q.Add("filter", "mimetype:text/html")
	q.Set("collapse", "digest")
	return c.endpoint + "?" + q.Encode()
}

// parseCDX decodes the JSON output form: a header row naming the fields,
// then one row per capture. Rows are filtered, deduplicated and sorted here
// as well, since the server-side filters are advisory.
func parseCDX(body []byte) ([]CDXSnapshot, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []CDXSnapshot{}, nil
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx response: %w", err)
	}
	if len(rows) < 2 {
		return []CDXSnapshot{}, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "original"} {
		if _, ok := col[required]; !ok {
			return nil, errors.New("cdx response missing " + required + " column")
		}
	}
	field := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	byDigest := make(map[string]bool)
	snapshots := make([]CDXSnapshot, 0, len(rows)-1)
	for _, row := range rows[1:] {
		s := CDXSnapshot{
			Timestamp:  field(row, "timestamp"),
			Original:   field(row, "original"),
			MimeType:   field(row, "mimetype"),
			StatusCode: field(row, "statuscode"),
			Digest:     field(row, "digest"),
		}
		s.Length, _ = strconv.ParseInt(field(row, "length"), 10, 64)

		if !validTimestamp(s.Timestamp) || s.Original == "" {
			continue
		}
		if s.StatusCode != "" && s.StatusCode != "200" {
			continue
		}
		if s.MimeType != "" && !strings.HasPrefix(s.MimeType, "text/html") {
			continue
		}
		snapshots = append(snapshots, s)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp > snapshots[j].Timestamp
	})

	// Keep the newest capture of each distinct page body.
	deduped := snapshots[:0]
	for _, s := range snapshots {
		if s.Digest != "" {
			if byDigest[s.Digest] {
				continue
			}
			byDigest[s.Digest] = true
		}
		deduped = append(deduped, s)
	}
	return deduped, nil
}

func validTimestamp(ts string) bool {
	if len(ts) != len(TimestampLayout) {
		return false
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func capSnapshots(s []CDXSnapshot, n int) []CDXSnapshot {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
