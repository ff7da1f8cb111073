package infra

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"crypto_view/internal/domain"

	"github.com/disintegration/imaging"
)

const defaultIconSize = 24

// IconDownloader handles downloading and caching asset logos
type IconDownloader struct {
	basePath string
	size     int
	client   *http.Client
}

// NewIconDownloader creates a new IconDownloader storing files under dir.
func NewIconDownloader(dir string, size int) (*IconDownloader, error) {
	if size <= 0 {
		size = defaultIconSize
	}

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create icons directory: %w", err)
	}

	// Optimize HTTP Transport to prevent connection leaks
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &IconDownloader{
		basePath: dir,
		size:     size,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
	}, nil
}

// DownloadIcon fetches logoURL for id unless a cached copy exists.
// Returns the local file path on success.
// Images are resized to a square of the configured size for consistent display.
func (d *IconDownloader) DownloadIcon(ctx context.Context, id domain.AssetID, logoURL string) (string, error) {
	filePath, err := d.pathFor(id)
	if err != nil {
		return "", err
	}

	// Check if exists
	if _, err := os.Stat(filePath); err == nil {
		return filePath, nil // Already exists (Cache Hit)
	}

	if logoURL == "" {
		return "", fmt.Errorf("no logo url for %s", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", domain.NewNetworkError("download icon", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	// Decode the image
	srcImg, err := imaging.Decode(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	// Resize with high-quality Lanczos filter
	resizedImg := imaging.Resize(srcImg, d.size, d.size, imaging.Lanczos)

	// Write to a temp name first so a half-written file is never served.
	// imaging picks the encoder from the extension, so keep .png last.
	tmpPath := strings.TrimSuffix(filePath, ".png") + ".tmp.png"
	if err := imaging.Save(resizedImg, tmpPath); err != nil {
		return "", fmt.Errorf("failed to save resized image: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return "", fmt.Errorf("failed to store icon: %w", err)
	}

	return filePath, nil
}

// IconPath returns the cached icon path for id, if present.
func (d *IconDownloader) IconPath(id domain.AssetID) (string, bool) {
	filePath, err := d.pathFor(id)
	if err != nil {
		return "", false
	}
	if _, err := os.Stat(filePath); err != nil {
		return "", false
	}
	return filePath, true
}

func (d *IconDownloader) pathFor(id domain.AssetID) (string, error) {
	// Security: Sanitize id to prevent path traversal
	safe := sanitizeID(string(id))
	if safe == "" {
		return "", fmt.Errorf("invalid asset id: %q", id)
	}
	return filepath.Join(d.basePath, safe+".png"), nil
}

func sanitizeID(id string) string {
	res := make([]rune, 0, len(id))
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			res = append(res, r)
		}
	}
	return string(res)
}
