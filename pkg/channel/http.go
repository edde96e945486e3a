package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"quakenotify/pkg/failure"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 64 << 10
	responseBodyLogLimit  = 512
)

// NewHTTPClient returns a client with an explicit request timeout so a stalled
// provider cannot hold a worker indefinitely.
func NewHTTPClient(timeoutSeconds int) *http.Client {
	timeout := DefaultRequestTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}

	return &http.Client{Timeout: timeout}
}

// Post executes req and logs the provider's response body regardless of the
// outcome. Transport failures and HTTP error statuses are transient failures.
func Post(client *http.Client, log *slog.Logger, req *http.Request) (Outcome, error) {
	startedAt := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Warn("Post failed", "url", redactURL(req.URL), "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return Outcome{}, failure.Transientf("post %s: %v", redactURL(req.URL), err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	body := strings.TrimSpace(string(raw))
	outcome := Outcome{
		Success:    resp.StatusCode < http.StatusBadRequest && readErr == nil,
		StatusCode: resp.StatusCode,
		Body:       body,
	}

	log.Info("Post response", "url", redactURL(req.URL), "status", resp.StatusCode, "duration_ms", time.Since(startedAt).Milliseconds(), "body", previewText(body, responseBodyLogLimit))

	if readErr != nil {
		return outcome, failure.Transientf("read response from %s: %v", redactURL(req.URL), readErr)
	}
	if !outcome.Success {
		return outcome, failure.Transientf("%s returned HTTP %d", redactURL(req.URL), resp.StatusCode)
	}

	return outcome, nil
}

// NewFormRequest builds a form-encoded POST.
func NewFormRequest(ctx context.Context, endpoint string, fields url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return req, nil
}

// NewMultipartRequest builds a multipart POST carrying fields and the file at
// path under fileField. A missing file is a missing_artifact failure.
func NewMultipartRequest(ctx context.Context, endpoint string, fields url.Values, fileField string, path string) (*http.Request, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, failure.NormalizeIOError(err, "open image")
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, value := range fields[key] {
			if err := writer.WriteField(key, value); err != nil {
				return nil, fmt.Errorf("write field %s: %w", key, err)
			}
		}
	}

	part, err := writer.CreateFormFile(fileField, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, failure.NormalizeIOError(err, "read image")
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req, nil
}

// previewText returns a bounded log-safe preview of text.
func previewText(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= limit {
		return trimmed
	}

	return trimmed[:limit] + "..."
}

// PreviewText is previewText with the default log limit.
func PreviewText(text string) string {
	return previewText(text, responseBodyLogLimit)
}

func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}
