package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
)

// Mover is the slice of object storage the relocator needs.
type Mover interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	Move(ctx context.Context, srcKey, dstKey string) error
}

// Relocator takes submitted image sources (external URLs or staging-area
// keys) and lands them under the listing's permanent prefix.
type Relocator struct {
	store         Mover
	httpClient    *http.Client
	stagingPrefix string
	maxBytes      int64
}

func NewRelocator(store Mover, httpClient *http.Client, stagingPrefix string, maxBytes int64) *Relocator {
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	return &Relocator{
		store:         store,
		httpClient:    httpClient,
		stagingPrefix: stagingPrefix,
		maxBytes:      maxBytes,
	}
}

// Relocate processes every source independently and returns the permanent
// keys of the ones that made it. One bad image never blocks a listing;
// only a total wipeout is an error.
func (r *Relocator) Relocate(ctx context.Context, sources []string, destPrefix string) ([]string, error) {
	destPrefix = strings.TrimSuffix(destPrefix, "/")

	var final []string
	for i, src := range sources {
		key, err := r.relocateOne(ctx, src, destPrefix, i)
		if err != nil {
			log.Printf("Media relocate: skipping source %d (%s): %v", i, src, err)
			continue
		}
		final = append(final, key)
	}

	if len(final) == 0 && len(sources) > 0 {
		return nil, fmt.Errorf("all %d image sources failed", len(sources))
	}
	return final, nil
}

func (r *Relocator) relocateOne(ctx context.Context, src, destPrefix string, index int) (string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return r.fetchAndStore(ctx, src, destPrefix, index)
	}
	return r.moveStaged(ctx, src, destPrefix, index)
}

func (r *Relocator) fetchAndStore(ctx context.Context, url, destPrefix string, index int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return "", fmt.Errorf("image exceeds %d byte limit", r.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}

	key := fmt.Sprintf("%s/image-%d%s", destPrefix, index, extensionFor(url, contentType))
	if err := r.store.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return key, nil
}

func (r *Relocator) moveStaged(ctx context.Context, stagedKey, destPrefix string, index int) (string, error) {
	src := stagedKey
	if !strings.HasPrefix(src, r.stagingPrefix) {
		src = r.stagingPrefix + strings.TrimPrefix(src, "/")
	}

	ext := strings.ToLower(path.Ext(src))
	if !isImageExt(ext) {
		ext = ".jpg"
	}

	key := fmt.Sprintf("%s/image-%d%s", destPrefix, index, ext)
	if err := r.store.Move(ctx, src, key); err != nil {
		return "", fmt.Errorf("move staged: %w", err)
	}
	return key, nil
}

func extensionFor(url, contentType string) string {
	ext := strings.ToLower(path.Ext(url))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if isImageExt(ext) {
		return ext
	}

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff":
		return true
	}
	return false
}

// DestPrefix derives the permanent per-owner prefix for a listing's images.
func DestPrefix(owner, listingID string) string {
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("listings/%s/%s", owner, listingID)
}
