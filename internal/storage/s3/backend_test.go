// Integration tests for the S3 cache backend require a MinIO (or S3) endpoint.
// They are skipped unless TEST_S3_ENDPOINT is set:
//
//	docker run -p 9000:9000 minio/minio server /data
//	TEST_S3_ENDPOINT=http://localhost:9000 go test ./internal/storage/s3/
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"head not found", &types.NotFound{}, true},
		{"wrapped api code", fmt.Errorf("op: %w", &smithy.GenericAPIError{Code: "NoSuchKey"}), true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// memS3 is an in-memory objectAPI. It pages listings two keys at a time.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newMemS3() *memS3 { return &memS3{objects: make(map[string][]byte)} }

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	if _, ok := m.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(m.objects[k]))),
			LastModified: aws.Time(time.Unix(1700000000, 0)),
		})
	}
	return out, nil
}

func TestBackend_InMemory(t *testing.T) {
	logging.InitNop()
	mem := newMemS3()
	mem.objects["other/9.osu"] = []byte("not ours")
	b := newBackend(mem, "beatmaps", "maps/")
	ctx := context.Background()

	if _, _, err := b.GetObject(ctx, "1.osu"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetObject before put: %v, want ErrNotFound", err)
	}

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		body := []byte("osu file format v14\n// " + id)
		if err := b.PutObject(ctx, id+".osu", bytes.NewReader(body), int64(len(body))); err != nil {
			t.Fatalf("PutObject %s: %v", id, err)
		}
	}
	if _, ok := mem.objects["maps/3.osu"]; !ok {
		t.Fatal("object not stored under the prefix")
	}

	rc, size, err := b.GetObject(ctx, "3.osu")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "osu file format v14\n// 3" || size != int64(len(got)) {
		t.Errorf("GetObject = %q (size %d)", got, size)
	}

	objects, err := b.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 5 {
		t.Fatalf("ListObjects returned %d objects across pages, want 5", len(objects))
	}
	for _, o := range objects {
		if strings.HasPrefix(o.Key, "maps/") || o.ModTime.IsZero() {
			t.Errorf("unexpected listing entry %+v", o)
		}
	}

	if err := b.DeleteObject(ctx, "3.osu"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if ok, err := b.ObjectExists(ctx, "3.osu"); ok || err != nil {
		t.Errorf("ObjectExists after delete = %v, %v", ok, err)
	}
	if ok, err := b.ObjectExists(ctx, "4.osu"); !ok || err != nil {
		t.Errorf("ObjectExists(4.osu) = %v, %v", ok, err)
	}
}

func TestBackend_InMemoryFailures(t *testing.T) {
	logging.InitNop()
	mem := newMemS3()
	mem.fail = &smithy.GenericAPIError{Code: "AccessDenied"}
	b := newBackend(mem, "beatmaps", "")
	ctx := context.Background()

	_, _, err := b.GetObject(ctx, "1.osu")
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetObject with access denied = %v, want a non-NotFound error", err)
	}
	if _, err := b.ObjectExists(ctx, "1.osu"); err == nil {
		t.Error("ObjectExists should surface access errors")
	}
	if err := b.PutObject(ctx, "1.osu", bytes.NewReader(nil), 0); err == nil {
		t.Error("PutObject should surface access errors")
	}
}

func TestS3Backend_RoundTrip(t *testing.T) {
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_S3_ENDPOINT not set")
	}
	logging.InitNop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b, err := NewBackend(ctx, Config{
		Endpoint:  endpoint,
		Bucket:    "beatmaps-test",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
		Prefix:    fmt.Sprintf("test-%d/", time.Now().UnixNano()),
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	_, _, err = b.GetObject(ctx, "1.osu")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetObject on empty prefix: %v, want ErrNotFound", err)
	}

	content := []byte("osu file format v14\n")
	if err := b.PutObject(ctx, "1.osu", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	rc, _, err := b.GetObject(ctx, "1.osu")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: %q", got)
	}

	objects, err := b.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 1 || objects[0].Key != "1.osu" {
		t.Errorf("ListObjects = %+v", objects)
	}

	if err := b.DeleteObject(ctx, "1.osu"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if ok, _ := b.ObjectExists(ctx, "1.osu"); ok {
		t.Error("object exists after delete")
	}
}
