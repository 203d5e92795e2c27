// Package chronovista recovers metadata for YouTube videos that are no
// longer available, using captures of their watch pages on the Wayback
// Machine.
//
// Overview
//
// Recovery runs in four steps:
//
//   - the video row is loaded and must not be AVAILABLE
//   - the CDX API lists captures of the watch page, newest first
//   - captures are parsed in order until one yields data
//   - recovered fields are merged into the row under a tiered policy
//
// channel_id and category_id are only filled while empty. Descriptive fields
// and upload_date are also overwritten when the capture is newer than the
// one last used. A field the capture lacks never clears a stored value.
//
// Quick Start
//
// Wire the collaborators once and share them:
//
//	limiter := http.NewRateLimiter(http.DefaultRateLimiterConfig())
//	client := http.New(http.DefaultConfig(), http.WithRateLimiter(limiter))
//	r := recovery.New(
//		wayback.NewCDXClient(client),
//		wayback.NewPageParser(client),
//		limiter,
//	)
//
// Recover one video inside a transaction you own:
//
//	err := store.InTx(ctx, func(ctx context.Context, sess storage.Session) error {
//		res := r.RecoverVideo(ctx, sess, "dQw4w9WgXcQ", false)
//		if !res.Success {
//			return fmt.Errorf("recovery failed: %s", res.FailureReason)
//		}
//		return nil
//	})
//
// Or recover many with bounded concurrency, one transaction per video:
//
//	summary := recovery.NewBatchRunner(r, log).Run(ctx, store, ids, recovery.BatchOptions{Concurrency: 4})
//
// Configuration
//
// The chronovista command reads chronovista.yaml (in the working directory
// or ~/.config/chronovista), then CHRONOVISTA_* environment variables, with
// the environment taking priority:
//
//   - CHRONOVISTA_STORE_BACKEND: postgres or json
//   - CHRONOVISTA_DATABASE_DSN: PostgreSQL connection string
//   - CHRONOVISTA_WAYBACK_REQUESTS_PER_SECOND: request ceiling for web.archive.org
//   - CHRONOVISTA_WAYBACK_MAX_SNAPSHOTS: captures examined per video (1-20)
//   - CHRONOVISTA_CACHE_BACKEND: none, file or redis
//   - CHRONOVISTA_LOG_LEVEL: debug, info, warn or error
//
// Packages
//
//   - recovery: the orchestrator, batch runner and metrics
//   - wayback: CDX client, page parser and snapshot caches
//   - storage: entities and repository interfaces, with postgres and jsonstore backends
//   - http: rate limited, retrying HTTP client with a circuit breaker
//   - youtube: identifier validation and category lookup
//   - config: configuration loading
package chronovista
