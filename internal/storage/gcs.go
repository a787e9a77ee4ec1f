package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStorage implements Storage using Google Cloud Storage
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	baseDir    string
	ctx        context.Context
}

// NewGCSStorage creates a new GCS storage instance
// projectID: Your GCP project ID
// bucketName: The GCS bucket name
// baseDir: Base directory/prefix within the bucket (e.g., "timelines")
func NewGCSStorage(ctx context.Context, projectID, bucketName, baseDir string) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Verify bucket exists
	bucket := client.Bucket(bucketName)
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucketName, err)
	}

	return &GCSStorage{
		client:     client,
		bucketName: bucketName,
		baseDir:    strings.Trim(baseDir, "/"),
		ctx:        ctx,
	}, nil
}

// Write writes data to GCS
func (s *GCSStorage) Write(name string, data []byte) error {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(name))
	w := obj.NewWriter(s.ctx)

	// Set metadata
	w.ContentType = contentType(name)
	w.CacheControl = cacheControl(name)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}

	return nil
}

// Read reads data from GCS
func (s *GCSStorage) Read(name string) ([]byte, error) {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(name))
	r, err := obj.NewReader(s.ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	return data, nil
}

// Delete deletes an object from GCS
func (s *GCSStorage) Delete(name string) error {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(name))
	if err := obj.Delete(s.ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}

	return nil
}

// Exists checks if an object exists in GCS
func (s *GCSStorage) Exists(name string) (bool, error) {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(name))
	_, err := obj.Attrs(s.ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check GCS object: %w", err)
	}

	return true, nil
}

// List lists the objects directly under dir in GCS
func (s *GCSStorage) List(dir string) ([]string, error) {
	prefix := s.fullPath(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	query := &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return nil, fmt.Errorf("failed to build GCS query: %w", err)
	}

	it := s.client.Bucket(s.bucketName).Objects(s.ctx, query)

	files := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}

		// Synthetic prefixes stand for subdirectories
		if attrs.Prefix != "" {
			continue
		}

		name := strings.TrimPrefix(attrs.Name, prefix)
		if name != "" {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	return files, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) fullPath(name string) string {
	if s.baseDir == "" {
		return name
	}
	return s.baseDir + "/" + name
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".mpd":
		return "application/dash+xml"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func cacheControl(name string) string {
	// Snapshot revisions never change once written
	if path.Ext(name) == ".json" {
		return "public, max-age=3600, immutable"
	}
	return "no-cache"
}
