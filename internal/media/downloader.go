package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxRetries = 2

// Graph is the slice of the provider client the downloader needs.
type Graph interface {
	MediaURL(ctx context.Context, mediaID string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Stored describes a persisted attachment.
type Stored struct {
	URL      string
	Filename string
	MimeType string
	Size     int
}

// Downloader resolves an inbound media id to a locally persisted blob via
// the signed-URL flow. Failures are retried with backoff a bounded number of
// times; after exhaustion the caller substitutes a placeholder message body.
type Downloader struct {
	graph     Graph
	dir       string
	serverURL string
	loc       *time.Location
	logger    *zap.Logger
}

func NewDownloader(graph Graph, dir, serverURL string, loc *time.Location, logger *zap.Logger) *Downloader {
	return &Downloader{graph: graph, dir: dir, serverURL: serverURL, loc: loc, logger: logger}
}

// Download fetches and persists one attachment.
func (d *Downloader) Download(ctx context.Context, tenantID, mediaID, mimeType, originalFilename, messageID string) (*Stored, error) {
	var stored *Stored

	op := func() error {
		signedURL, err := d.graph.MediaURL(ctx, mediaID)
		if err != nil {
			return fmt.Errorf("failed to fetch signed URL: %w", err)
		}

		buf, err := d.graph.Fetch(ctx, signedURL)
		if err != nil {
			return fmt.Errorf("failed to download media: %w", err)
		}
		if len(buf) == 0 {
			return fmt.Errorf("downloaded empty file for media %s", mediaID)
		}

		s, err := d.persist(tenantID, mediaID, mimeType, originalFilename, messageID, buf)
		if err != nil {
			return err
		}
		stored = s
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		d.logger.Error("Media download failed after retries",
			zap.String("mediaID", mediaID),
			zap.Error(err))
		return nil, err
	}
	return stored, nil
}

func (d *Downloader) persist(tenantID, mediaID, mimeType, originalFilename, messageID string, buf []byte) (*Stored, error) {
	now := time.Now().In(d.loc)
	relDir := filepath.Join("whatsapp_media", tenantID, fmt.Sprintf("%d", now.Year()), fmt.Sprintf("%02d", now.Month()))
	dirPath := filepath.Join(d.dir, relDir)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media dir: %w", err)
	}

	filename := sanitize(originalFilename)
	if filename == "" {
		filename = derivedName(mediaID, messageID, mimeType)
	}

	if err := os.WriteFile(filepath.Join(dirPath, filename), buf, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write media file: %w", err)
	}

	publicURL := fmt.Sprintf("%s/static/%s/%s", d.serverURL, filepath.ToSlash(relDir), filename)
	display := originalFilename
	if display == "" {
		display = filename
	}

	return &Stored{
		URL:      publicURL,
		Filename: display,
		MimeType: mimeType,
		Size:     len(buf),
	}, nil
}

func sanitize(name string) string {
	if name == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func derivedName(mediaID, messageID, mimeType string) string {
	ext := "file"
	if parts := strings.Split(mimeType, "/"); len(parts) == 2 && parts[1] != "" {
		ext = strings.SplitN(parts[1], "+", 2)[0]
	}

	base := messageID
	if base == "" {
		base = mediaID
	}
	if len(base) > 8 {
		base = base[len(base)-8:]
	}

	return fmt.Sprintf("%s_%d_%s.%s", base, time.Now().UnixMilli(), uuid.NewString()[:6], ext)
}
