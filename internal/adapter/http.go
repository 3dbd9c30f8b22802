package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

// maxMetadataSize bounds listing and manifest responses.
const maxMetadataSize = 64 << 20

const userAgent = "zvm/1.0"

// DefaultMetadataTimeout bounds a metadata request made with a client that
// has no timeout of its own.
const DefaultMetadataTimeout = 60 * time.Second

// fetchBytes GETs a metadata document. 4xx maps to
// *errs.UpstreamNotFoundError, transport failures and 5xx to
// *errs.NetworkError. A stalled body is a network error too.
func fetchBytes(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if client.Timeout <= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultMetadataTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &errs.NetworkError{URL: url, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &errs.UpstreamNotFoundError{URL: url, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &errs.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, &errs.NetworkError{URL: url, Err: err}
	}
	return body, nil
}

func fetchJSON(ctx context.Context, client *http.Client, url string, v interface{}) error {
	body, err := fetchBytes(ctx, client, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
