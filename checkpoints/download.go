package checkpoints

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	retryAttempts = 3
	retryDelay    = 5 * time.Second
)

// ByteProgressCallback reports download progress. total is -1 when the
// server did not send a length.
type ByteProgressCallback func(downloaded, total int64)

// progressWriter forwards writes to the destination file while reporting
// the running byte count, throttled so multi-gigabyte checkpoints do not
// flood the stream.
type progressWriter struct {
	dst        io.Writer
	cb         ByteProgressCallback
	written    int64
	total      int64
	lastReport time.Time
	ctx        context.Context
}

func (p *progressWriter) Write(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.dst.Write(b)
	p.written += int64(n)
	if p.cb != nil && time.Since(p.lastReport) >= 100*time.Millisecond {
		p.cb(p.written, p.total)
		p.lastReport = time.Now()
	}
	return n, err
}

// DownloadFile fetches url into destPath. A partial file left by an
// interrupted download is resumed with a Range request; checkpoint files
// run to gigabytes, so starting over is expensive.
func DownloadFile(ctx context.Context, destPath, url string, progress ByteProgressCallback) error {
	var offset int64
	if stat, err := os.Stat(destPath); err == nil {
		offset = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	// no client timeout: a 4 GB checkpoint on a slow link takes as long
	// as it takes, and ctx still bounds the whole call
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	resume := false
	switch resp.StatusCode {
	case http.StatusOK:
		offset = 0
	case http.StatusPartialContent:
		resume = true
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	var out *os.File
	if resume {
		out, err = os.OpenFile(destPath, os.O_APPEND|os.O_WRONLY, 0644)
	} else {
		out, err = os.Create(destPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", destPath, err)
	}
	defer out.Close()

	total := resp.ContentLength
	if total > 0 {
		total += offset
	}

	pw := &progressWriter{dst: out, cb: progress, written: offset, total: total, ctx: ctx}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		return fmt.Errorf("download interrupted: %w", err)
	}
	if progress != nil {
		progress(pw.written, total)
	}
	return nil
}

// DownloadWithRetry wraps DownloadFile with a few delayed retries. Thanks
// to Range resume a retry continues where the failed attempt stopped.
func DownloadWithRetry(ctx context.Context, destPath, url string, progress ByteProgressCallback) error {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		lastErr = DownloadFile(ctx, destPath, url, progress)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", retryAttempts, lastErr)
}

// FormatBytes renders a byte count for logs and the setup UI.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
