package download

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"coursemirror/pkg/checkpoint"
	"coursemirror/pkg/config"
	"coursemirror/pkg/fetch"
	"coursemirror/pkg/models"
	"coursemirror/pkg/parse"
	"coursemirror/pkg/utils"
)

// MediaDir is the subdirectory within a course directory holding media,
// split by kind below it.
const MediaDir = "media"

// Result is the outcome of one asset in a batch. LocalPath is relative to
// the course directory and set only on success.
type Result struct {
	LocalPath string
	Skipped   bool
	Err       error
}

// Options carries the per-batch settings FetchBatch needs: which media
// kinds the task wants and the platform's politeness parameters.
type Options struct {
	Media              models.TaskOptions
	UserAgent          string
	HostDelay          time.Duration
	AllowedDomains     []string
	DisallowedDomains  []string
	DisallowedPatterns []*regexp.Regexp
}

// downloadTask is one unit of work handed to a pool worker
type downloadTask struct {
	asset     models.MediaAsset
	normURL   string
	absURL    *url.URL
	courseDir string
	opts      Options
	resume    *models.AssetDBEntry // Prior partial state, nil for a fresh claim
	log       *logrus.Entry
	ctx       context.Context
	wg        *sync.WaitGroup
	collect   func(absURL string, res Result)
}

// Pool downloads media assets on a fixed set of workers, independent of
// the crawl workers so slow media never starves page extraction. Workers
// are persistent: started once, shared by every batch from every task.
type Pool struct {
	store       checkpoint.AssetStore
	fetcher     *fetch.Fetcher
	rateLimiter *fetch.RateLimiter
	hostSems    *fetch.HostSemaphorePool
	globalSem   *semaphore.Weighted
	appCfg      *config.AppConfig
	log         *logrus.Logger

	taskChan chan downloadTask
	workerWg sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewPool creates a download pool. Call Start before FetchBatch.
func NewPool(
	store checkpoint.AssetStore,
	fetcher *fetch.Fetcher,
	rateLimiter *fetch.RateLimiter,
	hostSems *fetch.HostSemaphorePool,
	globalSem *semaphore.Weighted,
	appCfg *config.AppConfig,
	log *logrus.Logger,
) *Pool {
	return &Pool{
		store:       store,
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		hostSems:    hostSems,
		globalSem:   globalSem,
		appCfg:      appCfg,
		log:         log,
		taskChan:    make(chan downloadTask, appCfg.NumDownloadWorkers*2),
	}
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.log.Infof("Launching %d media download workers", p.appCfg.NumDownloadWorkers)
	for i := 1; i <= p.appCfg.NumDownloadWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}
}

// Stop closes the task channel and waits for in-flight downloads to finish
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	close(p.taskChan)
	p.mu.Unlock()
	p.workerWg.Wait()
	p.log.Info("Media download workers stopped")
}

func (p *Pool) worker(id int) {
	defer p.workerWg.Done()
	workerLog := p.log.WithField("download_worker_id", id)
	workerLog.Debug("Download worker started")
	for task := range p.taskChan {
		p.processTask(task)
	}
	workerLog.Debug("Download worker finished (task channel closed)")
}

// FetchBatch dispatches a lesson's assets and waits for all of them.
// Synchronous filtering happens here (kind toggles, scheme, domain and
// pattern filters, asset-index dedup); only assets that actually need
// bytes moved reach a worker. Returns one Result per input asset, keyed
// by the asset's absolute URL.
func (p *Pool) FetchBatch(ctx context.Context, assets []models.MediaAsset, courseDir string, opts Options, batchLog *logrus.Entry) map[string]Result {
	results := make(map[string]Result, len(assets))
	var resultsMu sync.Mutex
	collect := func(absURL string, res Result) {
		resultsMu.Lock()
		results[absURL] = res
		resultsMu.Unlock()
	}

	var wg sync.WaitGroup

	for _, asset := range assets {
		if !opts.Media.Wants(asset.Kind) {
			collect(asset.URL, Result{Skipped: true})
			continue
		}

		absURL, err := url.Parse(asset.URL)
		if err != nil || (absURL.Scheme != "http" && absURL.Scheme != "https") {
			collect(asset.URL, Result{Err: fmt.Errorf("%w: asset URL '%s' not fetchable", utils.ErrParsing, asset.URL)})
			continue
		}

		host := absURL.Hostname()
		if !domainAllowed(host, opts.AllowedDomains, opts.DisallowedDomains) {
			batchLog.Debugf("Skipping asset from filtered domain '%s': %s", host, asset.URL)
			collect(asset.URL, Result{Skipped: true})
			continue
		}
		if matchesAny(asset.URL, opts.DisallowedPatterns) {
			batchLog.Debugf("Skipping asset matching disallowed pattern: %s", asset.URL)
			collect(asset.URL, Result{Skipped: true})
			continue
		}

		normURL := parse.NormalizeAssetURL(absURL)

		claimed, existing, err := p.store.Claim(normURL, &models.AssetDBEntry{
			Status:      models.AssetStatusPending,
			LastAttempt: time.Now().UTC(),
		})
		if err != nil {
			collect(asset.URL, Result{Err: err})
			continue
		}

		var resume *models.AssetDBEntry
		if !claimed {
			switch existing.Status {
			case models.AssetStatusDownloaded:
				// The index is shared across courses, so a downloaded entry
				// may point at another course's copy. Reuse only when the
				// file actually exists under this course directory.
				if assetPresent(courseDir, existing.LocalPath) {
					collect(asset.URL, Result{LocalPath: existing.LocalPath})
					continue
				}
				batchLog.Debugf("Indexed copy of '%s' not present under this course, downloading again", asset.URL)
			case models.AssetStatusPartial, models.AssetStatusFailed:
				resume = existing
			case models.AssetStatusPending:
				if lease := p.appCfg.AssetClaimLease; lease > 0 && time.Since(existing.LastAttempt) > lease {
					// The worker that claimed this died without recording an
					// outcome; take the claim over
					batchLog.Warnf("Taking over stale download claim on '%s' (last attempt %s)",
						asset.URL, existing.LastAttempt.Format(time.RFC3339))
				} else {
					// Another worker is on it right now; report it as skipped
					// rather than racing for the same file
					batchLog.Debugf("Asset '%s' already in flight elsewhere", asset.URL)
					collect(asset.URL, Result{Skipped: true})
					continue
				}
			}
		}

		assetLog := batchLog.WithFields(logrus.Fields{
			"asset_url":  asset.URL,
			"asset_kind": asset.Kind,
		})

		wg.Add(1)
		task := downloadTask{
			asset:     asset,
			normURL:   normURL,
			absURL:    absURL,
			courseDir: courseDir,
			opts:      opts,
			resume:    resume,
			log:       assetLog,
			ctx:       ctx,
			wg:        &wg,
			collect:   collect,
		}
		select {
		case p.taskChan <- task:
		case <-ctx.Done():
			wg.Done()
			collect(asset.URL, Result{Err: ctx.Err()})
		}
	}

	wg.Wait()
	return results
}

// assetPresent reports whether an indexed local path resolves to a real
// file under the given course directory.
func assetPresent(courseDir, localPath string) bool {
	if localPath == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(courseDir, filepath.FromSlash(localPath)))
	return err == nil && fi.Mode().IsRegular()
}

// domainAllowed applies the disallow list first, then the allow list when
// one is configured.
func domainAllowed(host string, allowed, disallowed []string) bool {
	for _, pattern := range disallowed {
		if matchDomain(host, pattern) {
			return false
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, pattern := range allowed {
		if matchDomain(host, pattern) {
			return true
		}
	}
	return false
}

// matchDomain checks if a host matches a pattern (exact or *. wildcard)
func matchDomain(host, pattern string) bool {
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:]
		return strings.HasSuffix(host, suffix) || (len(suffix) > 1 && host == suffix[1:])
	}
	return host == pattern
}

func matchesAny(rawURL string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}
