package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coursemirror/pkg/models"
	"coursemirror/pkg/utils"
)

// PartSuffix marks an in-progress download next to its final name
const PartSuffix = ".part"

// processTask runs one asset to completion: bounded backoff attempts,
// range resume, verification, and the asset-index update. The deferred
// block owns the index write and the batch callback, so every exit path
// (including a panic) leaves a consistent record behind.
func (p *Pool) processTask(task downloadTask) {
	ctx := task.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var taskErr error
	localPath := ""
	checksum := ""
	var bytesOnDisk int64

	defer func() {
		if r := recover(); r != nil {
			taskErr = fmt.Errorf("panic downloading '%s': %v", task.asset.URL, r)
			task.log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in download worker")
		}

		now := time.Now().UTC()
		var entry models.AssetDBEntry
		switch {
		case taskErr == nil:
			entry = models.AssetDBEntry{
				Status:      models.AssetStatusDownloaded,
				LocalPath:   localPath,
				BytesOnDisk: bytesOnDisk,
				Checksum:    checksum,
				LastAttempt: now,
			}
		case errors.Is(taskErr, context.Canceled) || errors.Is(taskErr, context.DeadlineExceeded):
			// Cancelled mid-asset: keep the partial bytes resumable
			entry = models.AssetDBEntry{
				Status:      models.AssetStatusPartial,
				BytesOnDisk: bytesOnDisk,
				ErrorType:   utils.CategorizeError(taskErr),
				LastAttempt: now,
			}
		default:
			entry = models.AssetDBEntry{
				Status:      models.AssetStatusFailed,
				BytesOnDisk: bytesOnDisk,
				ErrorType:   utils.CategorizeError(taskErr),
				LastAttempt: now,
			}
			task.log.Warnf("Asset download failed: %v", taskErr)
		}
		if updateErr := p.store.UpdateAsset(task.normURL, &entry); updateErr != nil {
			task.log.Errorf("Failed updating asset index for '%s': %v", task.normURL, updateErr)
		}

		task.collect(task.asset.URL, Result{LocalPath: localPath, Err: taskErr})
		task.wg.Done()
	}()

	host := task.absURL.Hostname()
	semTimeout := p.appCfg.SemaphoreAcquireTimeout

	hostCtx, cancelHost := context.WithTimeout(ctx, semTimeout)
	err := p.hostSems.Acquire(hostCtx, host)
	cancelHost()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			taskErr = fmt.Errorf("%w: acquiring host semaphore for '%s': %w", utils.ErrSemaphoreTimeout, task.asset.URL, err)
		} else {
			taskErr = fmt.Errorf("acquiring host semaphore for '%s': %w", task.asset.URL, err)
		}
		return
	}
	defer p.hostSems.Release(host)

	globalCtx, cancelGlobal := context.WithTimeout(ctx, semTimeout)
	err = p.globalSem.Acquire(globalCtx, 1)
	cancelGlobal()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			taskErr = fmt.Errorf("%w: acquiring global semaphore for '%s': %w", utils.ErrSemaphoreTimeout, task.asset.URL, err)
		} else {
			taskErr = fmt.Errorf("acquiring global semaphore for '%s': %w", task.asset.URL, err)
		}
		return
	}
	defer p.globalSem.Release(1)

	attempts := p.appCfg.MaxAssetAttempts
	delay := p.appCfg.InitialRetryDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			taskErr = ctxErr
			return
		}

		localPath, bytesOnDisk, checksum, taskErr = p.downloadOnce(ctx, task, host)
		if taskErr == nil {
			task.log.Debugf("Asset saved (%d bytes): %s", bytesOnDisk, localPath)
			return
		}
		if !retryableAssetError(taskErr) {
			return
		}
		if attempt < attempts {
			// Carry forward whatever landed on disk so the next attempt
			// can resume instead of refetching
			if bytesOnDisk > 0 {
				task.resume = &models.AssetDBEntry{Status: models.AssetStatusPartial, BytesOnDisk: bytesOnDisk}
			}
			task.log.Warnf("Attempt %d/%d failed (%v), backing off %s", attempt, attempts, taskErr, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				taskErr = ctx.Err()
				return
			}
			delay *= 2
			if delay > p.appCfg.MaxRetryDelay {
				delay = p.appCfg.MaxRetryDelay
			}
		}
	}
}

// downloadOnce performs a single transfer attempt: resume from the .part
// file when the server honors the range, fall back to a full refetch when
// it does not, then verify and move the file into place.
func (p *Pool) downloadOnce(ctx context.Context, task downloadTask, host string) (relPath string, total int64, checksum string, err error) {
	mediaDir := filepath.Join(task.courseDir, MediaDir, kindDir(task.asset.Kind))
	if mkErr := os.MkdirAll(mediaDir, 0755); mkErr != nil {
		return "", 0, "", fmt.Errorf("%w: creating media directory '%s': %w", utils.ErrFilesystem, mediaDir, mkErr)
	}

	finalPath := filepath.Join(mediaDir, localFilename(task.absURL))
	partPath := finalPath + PartSuffix

	// Resume offset comes from the .part file, cross-checked against the
	// stored byte count. Any disagreement means the partial cannot be
	// trusted and the transfer restarts clean.
	var offset int64
	if fi, statErr := os.Stat(partPath); statErr == nil {
		if task.resume != nil && task.resume.BytesOnDisk == fi.Size() {
			offset = fi.Size()
		} else {
			task.log.Debugf("Discarding untrusted partial file (%d bytes on disk)", fi.Size())
			os.Remove(partPath)
		}
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, task.asset.URL, nil)
	if reqErr != nil {
		return "", 0, "", fmt.Errorf("%w: creating request for '%s': %w", utils.ErrRequestCreation, task.asset.URL, reqErr)
	}
	if task.opts.UserAgent != "" {
		req.Header.Set("User-Agent", task.opts.UserAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		task.log.Debugf("Resuming from byte %d", offset)
	}

	p.rateLimiter.ApplyDelay(host, task.opts.HostDelay)
	resp, fetchErr := p.fetcher.FetchWithRetry(req, ctx)
	p.rateLimiter.UpdateLastRequestTime(host)
	if fetchErr != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return "", offset, "", fetchErr
	}
	defer resp.Body.Close()

	var out *os.File
	var openErr error
	if offset > 0 && resp.StatusCode == http.StatusPartialContent {
		out, openErr = os.OpenFile(partPath, os.O_WRONLY|os.O_APPEND, 0644)
	} else {
		if offset > 0 {
			task.log.Debugf("Server ignored range request (status %d), refetching in full", resp.StatusCode)
		}
		offset = 0
		out, openErr = os.Create(partPath)
	}
	if openErr != nil {
		io.Copy(io.Discard, resp.Body)
		return "", offset, "", fmt.Errorf("%w: opening part file '%s': %w", utils.ErrFilesystem, partPath, openErr)
	}

	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	total = offset + written

	if copyErr != nil {
		return "", total, "", fmt.Errorf("%w: streaming '%s' (got %d bytes): %w", utils.ErrResponseBodyRead, task.asset.URL, total, copyErr)
	}
	if closeErr != nil {
		return "", total, "", fmt.Errorf("%w: closing part file '%s': %w", utils.ErrFilesystem, partPath, closeErr)
	}

	// Size verification against the declared length
	if task.asset.Size > 0 && total != task.asset.Size {
		os.Remove(partPath)
		return "", 0, "", fmt.Errorf("%w: '%s' got %d bytes, expected %d",
			utils.ErrSizeMismatch, task.asset.URL, total, task.asset.Size)
	}

	// Checksum verification when the source declares one. A mismatch
	// deletes the partial so a later resume starts from clean bytes.
	if expected := strings.ToLower(task.asset.Checksum); expected != "" {
		actual, hashErr := hashFile(partPath, len(expected))
		if hashErr != nil {
			os.Remove(partPath)
			return "", 0, "", hashErr
		}
		if actual != expected {
			os.Remove(partPath)
			return "", 0, "", fmt.Errorf("%w: '%s' digest %s != expected %s",
				utils.ErrChecksumMismatch, task.asset.URL, actual, expected)
		}
		checksum = actual
	}

	if renameErr := os.Rename(partPath, finalPath); renameErr != nil {
		return "", total, "", fmt.Errorf("%w: moving '%s' into place: %w", utils.ErrFilesystem, partPath, renameErr)
	}

	rel, relErr := filepath.Rel(task.courseDir, finalPath)
	if relErr != nil {
		rel = filepath.Base(finalPath)
	}
	return filepath.ToSlash(rel), total, checksum, nil
}

// hashFile picks the digest by the expected hex length: 32 chars is MD5
// (the platform API's declared digests), 64 is SHA-256.
func hashFile(path string, hexLen int) (string, error) {
	switch hexLen {
	case 32:
		return utils.CalculateFileMD5(path)
	case 64:
		return utils.CalculateFileSHA256(path)
	default:
		return "", fmt.Errorf("%w: unsupported checksum length %d for '%s'", utils.ErrChecksumMismatch, hexLen, path)
	}
}

// retryableAssetError reports whether a failed attempt is worth repeating:
// transient network failures, plus verification failures that a clean
// refetch can fix.
func retryableAssetError(err error) bool {
	return utils.IsTransient(err) ||
		errors.Is(err, utils.ErrChecksumMismatch) ||
		errors.Is(err, utils.ErrSizeMismatch)
}

func kindDir(kind models.MediaKind) string {
	switch kind {
	case models.MediaKindImage:
		return "images"
	case models.MediaKindAudio:
		return "audio"
	case models.MediaKindVideo:
		return "video"
	case models.MediaKindAttachment:
		return "attachments"
	default:
		return "other"
	}
}

// localFilename derives a stable name from the URL alone, so resumes and
// re-runs always map a URL to the same file. A short URL hash keeps
// same-named files from different paths apart.
func localFilename(absURL *url.URL) string {
	ext := path.Ext(absURL.Path)
	base := utils.SanitizeFilename(strings.TrimSuffix(path.Base(absURL.Path), ext))
	if base == "" || base == "_" || base == "." {
		base = "asset"
	}
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	return fmt.Sprintf("%s_%s%s", base, utils.ShortURLHash(absURL.String(), 8), ext)
}
