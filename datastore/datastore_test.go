package datastore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/danthegoodman1/avrosplit/s3_helper"
	"github.com/google/go-cmp/cmp"
)

func testDataStore(t *testing.T, ds DataStore) {
	ctx := context.Background()
	content := []byte("0123456789abcdefghij")

	if err := ds.WriteFile(ctx, "in/a.avro", bytes.NewReader(content)); err != nil {
		t.Fatal(err)
	}
	if err := ds.WriteFile(ctx, "in/b.avro", strings.NewReader("b")); err != nil {
		t.Fatal(err)
	}
	if err := ds.WriteFile(ctx, "out/x.parquet", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}

	keys, err := ds.ListFiles(ctx, "in/")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"in/a.avro", "in/b.avro"}, keys); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}

	f, err := ds.OpenFile(ctx, "in/a.avro")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.SizeBytes() != int64(len(content)) {
		t.Fatalf("size %d", f.SizeBytes())
	}

	p := make([]byte, 5)
	if n, err := f.ReadAt(p, 10); err != nil || n != 5 || string(p) != "abcde" {
		t.Fatalf("ReadAt: %d %v %q", n, err, p)
	}
	// reads past the end are short with io.EOF
	p = make([]byte, 10)
	n, err := f.ReadAt(p, 15)
	if n != 5 || !errors.Is(err, io.EOF) || string(p[:n]) != "fghij" {
		t.Fatalf("short ReadAt: %d %v %q", n, err, p[:n])
	}

	if _, err := ds.OpenFile(ctx, "in/missing.avro"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDiskDataStore(t *testing.T) {
	ds, err := NewDiskDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	testDataStore(t, ds)

	for _, key := range []string{"../escape", "a/../../escape", ""} {
		if err := ds.WriteFile(context.Background(), key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("%q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

// fakeS3 serves just enough of the S3 REST API for HEAD, ranged GET, PUT and ListObjectsV2
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if path == f.bucket && r.Method == http.MethodGet {
		f.list(w, r.URL.Query().Get("prefix"))
		return
	}
	key := strings.TrimPrefix(path, f.bucket+"/")

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			}
			return
		}
		http.ServeContent(w, r, key, time.Time{}, bytes.NewReader(data))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>`, f.bucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>%d</Size></Contents>`, k, len(f.objects[k]))
	}
	b.WriteString(`</ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, b.String())
}

func TestS3DataStore(t *testing.T) {
	fake := &fakeS3{bucket: "testbucket", objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ds, err := NewS3DataStore(s3_helper.Config{
		Region:         "us-east-1",
		Endpoint:       srv.URL,
		Bucket:         "testbucket",
		Credentials:    credentials.NewStaticCredentials("id", "secret", ""),
		ForcePathStyle: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	testDataStore(t, ds)
}
