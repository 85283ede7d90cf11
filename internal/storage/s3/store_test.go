package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/storage"
)

func TestListUsesPrefixAndReturnsRelativeKeys(t *testing.T) {
	fake := &fakeClient{objects: []storage.ObjectInfo{
		{Key: "warehouse/farmers/", Size: 0},
		{Key: "warehouse/farmers/part-1.parquet", Size: 10},
		{Key: "warehouse/plots/part-1.parquet", Size: 20},
	}}
	store, err := NewWithClient("bucket-a", "/warehouse/", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	objects, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastBucket != "bucket-a" || fake.lastPrefix != "warehouse/" {
		t.Fatalf("bucket/prefix = %q/%q", fake.lastBucket, fake.lastPrefix)
	}
	if len(objects) != 2 {
		t.Fatalf("objects = %#v", objects)
	}
	if objects[0].Key != "farmers/part-1.parquet" || objects[1].Key != "plots/part-1.parquet" {
		t.Fatalf("keys = %q, %q", objects[0].Key, objects[1].Key)
	}

	if _, err := store.List(context.Background(), "farmers"); err != nil {
		t.Fatalf("List(farmers) error = %v", err)
	}
	if fake.lastPrefix != "warehouse/farmers/" {
		t.Fatalf("prefix = %q", fake.lastPrefix)
	}
}

func TestListWithoutPrefix(t *testing.T) {
	fake := &fakeClient{objects: []storage.ObjectInfo{{Key: "farmers/a.parquet"}}}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	objects, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if fake.lastPrefix != "" || len(objects) != 1 || objects[0].Key != "farmers/a.parquet" {
		t.Fatalf("prefix=%q objects=%#v", fake.lastPrefix, objects)
	}
}

func TestGetUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "askdb/prod", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	reader, err := store.Get(context.Background(), "/farmers/./part.parquet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	body, _ := io.ReadAll(reader)
	_ = reader.Close()
	if string(body) != "askdb/prod/farmers/part.parquet" {
		t.Fatalf("key = %q", string(body))
	}
}

func TestGetRejectsPathTraversal(t *testing.T) {
	store, err := NewWithClient("bucket-a", "", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "../secrets.txt"); err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestStatMapsNotFound(t *testing.T) {
	store, err := NewWithClient("bucket-a", "p", &fakeClient{statErr: storage.ErrObjectNotFound})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	if _, err := store.Stat(context.Background(), "missing/file.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v, want ErrObjectNotFound", err)
	}
}

func TestStatReturnsRelativeKey(t *testing.T) {
	store, err := NewWithClient("bucket-a", "p", &fakeClient{})
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	info, err := store.Stat(context.Background(), "farmers/a.parquet")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Key != "farmers/a.parquet" {
		t.Fatalf("Key = %q", info.Key)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("endpoint/secure/err = %q/%v/%v", endpoint, secure, err)
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(Config{Bucket: "b"}); err == nil {
		t.Fatal("expected endpoint error")
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected bucket error")
	}
}

type fakeClient struct {
	objects    []storage.ObjectInfo
	lastBucket string
	lastPrefix string
	statErr    error
}

func (f *fakeClient) List(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	f.lastBucket = bucket
	f.lastPrefix = prefix
	return append([]storage.ObjectInfo(nil), f.objects...), nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeClient) Stat(_ context.Context, _, key string) (storage.ObjectInfo, error) {
	if f.statErr != nil {
		return storage.ObjectInfo{}, f.statErr
	}
	return storage.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}
