package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrUnresolvable = errors.New("media reference cannot be resolved")

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Ref points at one solution artifact of a graded question.
type Ref struct {
	Kind         Kind   `json:"kind"`
	FileID       string `json:"file_id,omitempty"`
	RelativePath string `json:"relative_path,omitempty"`
}

// ObjectKey is the storage key of the artifact: the relative path when the
// backend gave one, otherwise files/{fileId}. Keys never leave the bucket
// root.
func (r Ref) ObjectKey() (string, error) {
	if p := strings.TrimLeft(strings.TrimSpace(r.RelativePath), "/"); p != "" {
		key := path.Clean(p)
		if key == "." || key == ".." || strings.HasPrefix(key, "../") {
			return "", fmt.Errorf("%w: path %q escapes the media root", ErrUnresolvable, r.RelativePath)
		}
		return key, nil
	}
	if id := strings.TrimSpace(r.FileID); id != "" {
		if id == "." || id == ".." {
			return "", fmt.Errorf("%w: file id %q", ErrUnresolvable, r.FileID)
		}
		return "files/" + url.PathEscape(id), nil
	}
	return "", fmt.Errorf("%w: empty %s ref", ErrUnresolvable, r.Kind)
}

type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// URLResolver joins object keys onto a static base URL.
type URLResolver struct {
	BaseURL string
}

func (u URLResolver) Resolve(_ context.Context, ref Ref) (string, error) {
	key, err := ref.ObjectKey()
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
	if base == "" {
		return "/" + key, nil
	}
	return base + "/" + key, nil
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	URLTTL    time.Duration
}

// MinioResolver hands out presigned GET URLs for objects in one bucket.
type MinioResolver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewMinioResolver(cfg MinioConfig) (*MinioResolver, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MinioResolver{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

func (m *MinioResolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	key, err := ref.ObjectKey()
	if err != nil {
		return "", err
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Resolved is a Ref together with the URL a client can fetch it from.
type Resolved struct {
	Ref
	URL string `json:"url"`
}

// ResolveAll resolves refs in order. Refs that cannot be resolved are
// skipped; other errors abort.
func ResolveAll(ctx context.Context, r Resolver, refs []Ref) ([]Resolved, error) {
	out := make([]Resolved, 0, len(refs))
	for _, ref := range refs {
		u, err := r.Resolve(ctx, ref)
		if err != nil {
			if errors.Is(err, ErrUnresolvable) {
				continue
			}
			return nil, err
		}
		out = append(out, Resolved{Ref: ref, URL: u})
	}
	return out, nil
}
