package storage

import (
	"context"
	"fmt"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore legt Bilder in einem Google-Cloud-Storage-Bucket ab.
type GCSStore struct {
	Client *gcs.Client
	Bucket string
}

// NewGCSStore nutzt die Application Default Credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{Client: client, Bucket: bucket}, nil
}

func (s *GCSStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	w := s.Client.Bucket(s.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close object %s: %w", key, err)
	}
	return s.Ref(key), nil
}

func (s *GCSStore) Ref(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.Bucket, key)
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	it := s.Client.Bucket(s.Bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		objects = append(objects, Object{Key: attrs.Name, Ref: s.Ref(attrs.Name), ModTime: attrs.Updated})
	}
	return objects, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	return s.Client.Bucket(s.Bucket).Object(key).Delete(ctx)
}
