package blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/nvandessel/monosim/internal/config"
)

// fakeS3 is a tiny path-style S3 subset: Head, Get, Put, Delete and
// ListObjectsV2.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.state {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;e&quot;</ETag><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(f.state[k]))
		}
		b.WriteString("</ListBucketResult>")
		return xmlResponse(http.StatusOK, b.String()), nil
	}

	body, ok := f.state[key]
	switch req.Method {
	case http.MethodHead:
		if !ok {
			return emptyResponse(http.StatusNotFound, nil), nil
		}
		return emptyResponse(http.StatusOK, http.Header{"Content-Length": {strconv.Itoa(len(body))}, "Etag": {`"e"`}}), nil
	case http.MethodGet:
		if !ok {
			return xmlResponse(http.StatusNotFound, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`), nil
		}
		resp := emptyResponse(http.StatusOK, http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/octet-stream"},
			"Etag":           {`"e"`},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		})
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(len(body))
		return resp, nil
	case http.MethodPut:
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			if data, err = decodeChunked(data); err != nil {
				return nil, err
			}
		}
		f.state[key] = data
		return emptyResponse(http.StatusOK, http.Header{"Etag": {`"e"`}}), nil
	case http.MethodDelete:
		delete(f.state, key)
		return emptyResponse(http.StatusNoContent, nil), nil
	}
	return emptyResponse(http.StatusNotImplemented, nil), nil
}

// decodeChunked strips aws-chunked framing: <hex-size>[;ext]\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func emptyResponse(code int, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: code, Header: h, Body: io.NopCloser(bytes.NewReader(nil))}
}

func xmlResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode:    code,
		Header:        http.Header{"Content-Type": {"application/xml"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func newFakeS3(t *testing.T, prefix string) *S3 {
	t.Helper()
	rt := &fakeS3{state: make(map[string][]byte)}
	s, err := NewS3(context.Background(), S3Config{
		Bucket:    "cultures",
		Endpoint:  "https://mock.s3.local",
		Prefix:    prefix,
		PathStyle: true,
	},
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
		awsconfig.WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("NewS3() error = %v", err)
	}
	return s
}

func stores(t *testing.T) map[string]Store {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{
		"memory":    NewMemory(),
		"fs":        fsStore,
		"s3":        newFakeS3(t, ""),
		"s3 prefix": newFakeS3(t, "monosim/"),
	}
}

func TestStore_Conformance(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte("header\n\x1f\x8b\r\nbinary\r\n0\r\n")
			info, err := s.Put(ctx, "run-a/replicate-0001.snap.gz", bytes.NewReader(payload), PutOptions{ContentType: "application/gzip"})
			if err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if info.Size != int64(len(payload)) || info.Key != "run-a/replicate-0001.snap.gz" {
				t.Errorf("Put() info = %+v", info)
			}

			if _, err := s.Put(ctx, "run-a/replicate-0001.snap.gz", strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Errorf("second Put() error = %v, want ErrExists", err)
			}

			_, rc, err := s.Get(ctx, "run-a/replicate-0001.snap.gz")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			got, err := io.ReadAll(rc)
			rc.Close()
			if err != nil || !bytes.Equal(got, payload) {
				t.Errorf("Get() body = %q, %v; want %q", got, err, payload)
			}

			if _, _, err := s.Get(ctx, "run-a/missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}

			for _, k := range []string{"run-a/replicate-0002.snap.gz", "run-b/replicate-0001.snap.gz"} {
				if _, err := s.Put(ctx, k, strings.NewReader(k), PutOptions{}); err != nil {
					t.Fatal(err)
				}
			}
			list, err := s.List(ctx, "run-a/")
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			var keys []string
			for _, i := range list {
				keys = append(keys, i.Key)
			}
			want := []string{"run-a/replicate-0001.snap.gz", "run-a/replicate-0002.snap.gz"}
			if strings.Join(keys, ",") != strings.Join(want, ",") {
				t.Errorf("List(run-a/) = %v, want %v", keys, want)
			}
			if all, _ := s.List(ctx, ""); len(all) != 3 {
				t.Errorf("List(\"\") returned %d blobs, want 3", len(all))
			}

			deleted, err := s.Delete(ctx, "run-b/replicate-0001.snap.gz")
			if err != nil || !deleted {
				t.Errorf("Delete() = %v, %v; want true", deleted, err)
			}
			deleted, err = s.Delete(ctx, "run-b/replicate-0001.snap.gz")
			if err != nil || deleted {
				t.Errorf("second Delete() = %v, %v; want false", deleted, err)
			}
		})
	}
}

func TestFilesystem_RejectsUnsafeKeys(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "  ", "../escape", "/abs/path", "a/../../b"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
}

func TestFilesystem_MetadataRoundTrip(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	meta := map[string]string{"run_id": "abc"}
	put, err := s.Put(context.Background(), "k", strings.NewReader("data"), PutOptions{ContentType: "text/plain", Metadata: meta})
	if err != nil {
		t.Fatal(err)
	}
	meta["run_id"] = "mutated"

	info, rc, err := s.Get(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	rc.Close()
	if info.ContentType != "text/plain" || info.Metadata["run_id"] != "abc" || info.ETag != put.ETag {
		t.Errorf("Get() info = %+v, put = %+v", info, put)
	}
}

func TestOpen(t *testing.T) {
	dataDir := t.TempDir()
	tests := []struct {
		name    string
		cfg     config.BlobConfig
		want    Driver
		wantErr bool
	}{
		{"default fs", config.BlobConfig{}, DriverFilesystem, false},
		{"explicit root", config.BlobConfig{Driver: "fs", Root: t.TempDir()}, DriverFilesystem, false},
		{"memory", config.BlobConfig{Driver: "memory"}, DriverMemory, false},
		{"s3 without bucket", config.BlobConfig{Driver: "s3"}, "", true},
		{"unknown", config.BlobConfig{Driver: "gcs"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(context.Background(), tt.cfg, dataDir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && s.Driver() != tt.want {
				t.Errorf("Driver() = %s, want %s", s.Driver(), tt.want)
			}
		})
	}

	s, err := Open(context.Background(), config.BlobConfig{}, dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if root := s.(*Filesystem).Root(); !strings.HasPrefix(root, dataDir) || !strings.HasSuffix(root, "snapshots") {
		t.Errorf("default root = %s", root)
	}
}
