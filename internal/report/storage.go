package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/upstream"
)

// DefaultBucket is the public bucket reports are written to.
const DefaultBucket = "medbay-reports"

// DefaultUploadTimeout bounds a single storage upload.
const DefaultUploadTimeout = 30 * time.Second

// ErrInvalidPath is returned for object paths that escape the storage root.
var ErrInvalidPath = errors.New("invalid object path")

// Storage stores an object and returns its public URL.
type Storage interface {
	Put(ctx context.Context, objectPath, contentType string, data []byte) (string, error)
}

// SupabaseStorage writes objects through the Supabase Storage REST API.
type SupabaseStorage struct {
	baseURL string
	key     string
	bucket  string
	timeout time.Duration
	http    *http.Client
}

var _ Storage = (*SupabaseStorage)(nil)

// NewSupabaseStorage creates a store for bucket on the project at baseURL, authorized
// with a service role key. An empty bucket means DefaultBucket.
func NewSupabaseStorage(baseURL, key, bucket string, client *http.Client) *SupabaseStorage {
	if bucket == "" {
		bucket = DefaultBucket
	}
	if client == nil {
		client = &http.Client{}
	}
	return &SupabaseStorage{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		bucket:  bucket,
		timeout: DefaultUploadTimeout,
		http:    client,
	}
}

// Put uploads data and returns the bucket's public URL for it.
func (s *SupabaseStorage) Put(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapePath(clean))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	if _, err := upstream.Do(s.http, "report storage", req); err != nil {
		return "", err
	}
	return s.PublicURL(clean), nil
}

// PublicURL is the public download URL of objectPath.
func (s *SupabaseStorage) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapePath(objectPath))
}

// LocalStorage writes objects under a directory that the API serves at /reports/.
type LocalStorage struct {
	dir     string
	baseURL string
}

var _ Storage = (*LocalStorage)(nil)

// NewLocalStorage creates the directory if needed. publicBaseURL is the externally
// visible URL prefix, e.g. http://localhost:8080/reports.
func NewLocalStorage(dir, publicBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create report directory %s: %w", dir, err)
	}
	return &LocalStorage{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir is the storage root.
func (s *LocalStorage) Dir() string { return s.dir }

// Put writes data to the directory and returns its URL.
func (s *LocalStorage) Put(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return "", fmt.Errorf("write report %s: %w", full, err)
	}
	slog.Debug("LocalStorage.Put: report written", "path", full, "bytes", len(data))
	return s.baseURL + "/" + escapePath(clean), nil
}

// Prune removes report files last modified before cutoff and returns how many it
// deleted. Directories are left in place.
func (s *LocalStorage) Prune(cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				return fmt.Errorf("remove %s: %w", p, err)
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		slog.Info("LocalStorage.Prune: expired reports removed", "count", removed, "dir", s.dir)
	}
	return removed, err
}

func cleanObjectPath(p string) (string, error) {
	clean := path.Clean("/" + strings.TrimSpace(p))[1:]
	if clean == "" || clean != strings.TrimPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return clean, nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
