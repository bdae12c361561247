package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/AdGuard-AI/config"
)

var ErrInvalidObjectPath = errors.New("invalid object path")

// StoredObject describes a durably stored file
type StoredObject struct {
	Path        string `json:"path"`
	PublicURL   string `json:"public_url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ArtifactStore keeps uploaded media and hands back stable public URLs
type ArtifactStore interface {
	Put(ctx context.Context, objectPath, contentType string, r io.Reader, size int64) (*StoredObject, error)
	Delete(ctx context.Context, objectPaths ...string) error
}

// ObjectPath builds {userID}/{advertisementID}/{unixMillis}-{filename}
func ObjectPath(userID, advertisementID uint, filename string, at time.Time) string {
	return fmt.Sprintf("%d/%d/%d-%s", userID, advertisementID, at.UnixMilli(), SanitizeFilename(filename))
}

// SanitizeFilename strips directories and characters unsafe in object keys
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func cleanObjectPath(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidObjectPath
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", ErrInvalidObjectPath
	}
	return cleaned, nil
}

// NewArtifactStore picks the configured provider
func NewArtifactStore(cfg config.StorageConfig) (ArtifactStore, error) {
	switch cfg.Provider {
	case "supabase":
		return NewSupabaseStore(cfg.SupabaseURL, cfg.ServiceKey, cfg.Bucket), nil
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// SupabaseStore writes to a Supabase storage bucket over its REST API
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	bucket     string
	client     *http.Client
}

func NewSupabaseStore(baseURL, serviceKey, bucket string) *SupabaseStore {
	return &SupabaseStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

func (s *SupabaseStore) Put(ctx context.Context, objectPath, contentType string, r io.Reader, size int64) (*StoredObject, error) {
	key, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, r)
	if err != nil {
		return nil, err
	}
	if size >= 0 {
		req.ContentLength = size
	}
	s.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: upload %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("storage: upload %s: http status %d: %s", key, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return &StoredObject{
		Path:        key,
		PublicURL:   fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key),
		ContentType: contentType,
		Size:        size,
	}, nil
}

func (s *SupabaseStore) Delete(ctx context.Context, objectPaths ...string) error {
	if len(objectPaths) == 0 {
		return nil
	}
	b, _ := json.Marshal(map[string][]string{"prefixes": objectPaths})

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", s.baseURL, s.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("storage: delete: http status %d", resp.StatusCode)
	}
	return nil
}

func (s *SupabaseStore) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

// LocalStore writes files under a directory served at PublicBaseURL
type LocalStore struct {
	root          string
	publicBaseURL string
}

func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", root, err)
	}
	return &LocalStore{root: root, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Root is the directory the store writes to
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) Put(ctx context.Context, objectPath, contentType string, r io.Reader, size int64) (*StoredObject, error) {
	key, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, readerWithContext(ctx, r))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("storage: write %s: %w", key, err)
	}
	if size >= 0 && written != size {
		_ = os.Remove(tmpName)
		return nil, fmt.Errorf("storage: write %s: wrote %d of %d bytes", key, written, size)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return nil, err
	}

	return &StoredObject{
		Path:        key,
		PublicURL:   s.publicBaseURL + "/" + key,
		ContentType: contentType,
		Size:        written,
	}, nil
}

func (s *LocalStore) Delete(ctx context.Context, objectPaths ...string) error {
	var errs []error
	for _, p := range objectPaths {
		key, err := cleanObjectPath(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

// FormatSize renders a byte count for log lines
func FormatSize(n int64) string {
	const mb = 1024 * 1024
	if n >= mb {
		return strconv.FormatFloat(float64(n)/mb, 'f', 1, 64) + "MB"
	}
	return strconv.FormatInt(n, 10) + "B"
}
