package wayback

import (
	"context"
	"fmt"
	"time"

	ythttp "chronovista/http"
	"chronovista/internal/logger"
)

// DefaultPageTimeout bounds one archived page fetch.
const DefaultPageTimeout = 20 * time.Second

// PageParser fetches archived watch pages and extracts video metadata.
type PageParser struct {
	http       Fetcher
	archiveURL string
	timeout    time.Duration
	log        logger.Logger
}

// ParserOption configures a PageParser.
type ParserOption func(*PageParser)

// WithArchiveURL overrides the archive base URL.
func WithArchiveURL(base string) ParserOption {
	return func(p *PageParser) {
		p.archiveURL = base
	}
}

// WithPageTimeout bounds each page fetch.
func WithPageTimeout(d time.Duration) ParserOption {
	return func(p *PageParser) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithParserLogger sets the logger.
func WithParserLogger(l logger.Logger) ParserOption {
	return func(p *PageParser) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPageParser creates a parser on top of an HTTP fetcher.
func NewPageParser(fetcher Fetcher, opts ...ParserOption) *PageParser {
	p := &PageParser{
		http:       fetcher,
		archiveURL: DefaultArchiveURL,
		timeout:    DefaultPageTimeout,
		log:        logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExtractMetadata fetches the snapshot and extracts what it can. A removal
// notice, or a capture the archive no longer serves (404), yields data with
// only SnapshotTimestamp set and a nil error. Timeouts wrap ErrPageTimeout.
func (p *PageParser) ExtractMetadata(ctx context.Context, snapshot CDXSnapshot) (*RecoveredVideoData, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	pageURL := snapshot.ArchiveURL(p.archiveURL)
	resp, err := p.http.Get(fetchCtx, pageURL)
	if err != nil {
		if ctx.Err() == nil && ythttp.IsTimeout(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrPageTimeout, snapshot.Timestamp, err)
		}
		if ythttp.IsNotFound(err) {
			p.log.Debug("capture not archived", logger.String("snapshot", snapshot.Timestamp))
			return &RecoveredVideoData{SnapshotTimestamp: snapshot.Timestamp}, nil
		}
		return nil, fmt.Errorf("fetch snapshot %s: %w", snapshot.Timestamp, err)
	}

	data, err := ExtractFromHTML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", snapshot.Timestamp, err)
	}
	data.SnapshotTimestamp = snapshot.Timestamp

	p.log.Debug("snapshot parsed",
		logger.String("snapshot", snapshot.Timestamp),
		logger.Bool("has_data", data.HasData()))
	return data, nil
}
