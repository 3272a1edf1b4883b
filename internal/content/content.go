// Package content provides the production artwork blob source and the
// pinning client used by the mint workflow.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/trivianft/core/internal/app/domain/apperr"
	"github.com/trivianft/core/pkg/logger"
)

// DirStore serves artwork blobs from a directory tree keyed by relative
// path.
type DirStore struct {
	root string
}

// NewDirStore creates a blob store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

// Get reads the blob at key. Keys resolve inside the root only.
func (s *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	clean := filepath.Clean("/" + key)
	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.KindNotFound, "BLOB_NOT_FOUND", "blob %s not found", key)
		}
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// HTTPPinner pins blobs through a pinning service over HTTP and returns the
// content id the service reports.
type HTTPPinner struct {
	client   *http.Client
	endpoint string
	apiKey   string
	log      *logger.Logger
}

// NewHTTPPinner configures the pinning client. The endpoint is required.
func NewHTTPPinner(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPPinner, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("pinning endpoint is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefault("pinner")
	}
	return &HTTPPinner{client: client, endpoint: endpoint, apiKey: apiKey, log: log}, nil
}

// Pin uploads the blob and returns its content id. Transport and 5xx
// failures are transient; a 4xx means the blob itself was rejected.
func (p *HTTPPinner) Pin(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", apperr.External("pinning service unreachable", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", apperr.External("read pin response", true, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return "", apperr.External(fmt.Sprintf("pinning service returned %d", resp.StatusCode), true, nil)
	case resp.StatusCode >= 300:
		return "", apperr.External(fmt.Sprintf("pin rejected with %d: %s", resp.StatusCode, body), false, nil)
	}

	var out struct {
		CID string `json:"cid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apperr.External("malformed pin response", false, err)
	}
	if out.CID == "" {
		return "", apperr.External("pin response missing cid", false, nil)
	}
	return out.CID, nil
}
