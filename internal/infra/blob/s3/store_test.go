package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenhouse/internal/blob/core"
)

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// fakeBucket answers the path-style S3 calls the store makes.
type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	pageSize int
	failList bool
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]fakeObject{}, pageSize: 1000}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	query := req.URL.Query()
	switch {
	case req.Method == http.MethodGet && query.Get("list-type") == "2":
		if f.failList {
			return xmlError(http.StatusForbidden, "AccessDenied"), nil
		}
		return f.list(query.Get("prefix"), query.Get("continuation-token")), nil
	case req.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, nil, objectHeaders(obj)), nil
	case req.Method == http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return xmlError(http.StatusNotFound, "NoSuchKey"), nil
		}
		return respond(http.StatusOK, obj.body, objectHeaders(obj)), nil
	case req.Method == http.MethodPut:
		raw, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			raw = decodeAWSChunked(raw)
		}
		meta := map[string]string{}
		for name, values := range req.Header {
			if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
			}
		}
		f.objects[key] = fakeObject{body: raw, contentType: req.Header.Get("Content-Type"), metadata: meta}
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"abc123"`}}), nil
	case req.Method == http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeBucket) list(prefix, token string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start, _ := strconv.Atoi(token)
	end := start + f.pageSize
	truncated := end < len(keys)
	if !truncated {
		end = len(keys)
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&b, "<NextContinuationToken>%d</NextContinuationToken>", end)
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;e&quot;</ETag><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func objectHeaders(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"Etag":           {`"abc123"`},
		"Last-Modified":  {"Mon, 01 Jan 2024 00:00:00 GMT"},
	}
	for k, v := range obj.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func respond(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

func xmlError(status int, code string) *http.Response {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	return respond(status, []byte(body), http.Header{"Content-Type": {"application/xml"}})
}

// decodeAWSChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n" ... "0\r\n<trailers>".
func decodeAWSChunked(raw []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out.Bytes()
		}
		sizeHex := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 {
			return out.Bytes()
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return out.Bytes()
		}
		_, _ = r.ReadString('\n')
	}
}

func newTestStore(t *testing.T, bucket *fakeBucket, prefix string) *Store {
	t.Helper()
	// a CA bundle makes the SDK reject the plain test client
	t.Setenv("AWS_CA_BUNDLE", "")
	store, err := New(context.Background(), Config{
		Bucket:          "reports",
		Region:          "eu-west-1",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		Prefix:          prefix,
		HTTPClient:      &http.Client{Transport: bucket},
	})
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	store := newTestStore(t, bucket, "")
	assert.Equal(t, core.DriverS3, store.Driver())
	assert.Equal(t, "reports", store.Bucket())

	obj, err := store.Put(ctx, "exports/e1/analytics.json", strings.NewReader(`{"seeds":[]}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"export": "e1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", obj.ETag)
	assert.EqualValues(t, 12, obj.Size)
	assert.Equal(t, `{"seeds":[]}`, string(bucket.objects["exports/e1/analytics.json"].body))

	_, err = store.Put(ctx, "exports/e1/analytics.json", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, core.ErrExists)

	got, rc, err := store.Get(ctx, "exports/e1/analytics.json")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"seeds":[]}`, string(body))
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, "e1", got.Metadata["export"])

	_, _, err = store.Get(ctx, "exports/missing.json")
	assert.ErrorIs(t, err, core.ErrNotFound)

	link, err := store.URL(ctx, "exports/e1/analytics.json", 0)
	require.NoError(t, err)
	assert.Contains(t, link, "X-Amz-Expires=900")

	existed, err := store.Delete(ctx, "exports/e1/analytics.json")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = store.Delete(ctx, "exports/e1/analytics.json")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestStoreListPaginatesAndStripsPrefix(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	bucket.pageSize = 1
	store := newTestStore(t, bucket, "/greenhouse/")
	for _, key := range []string{"r/b.csv", "r/a.json", "other.txt"} {
		_, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{})
		require.NoError(t, err)
	}
	assert.Contains(t, bucket.objects, "greenhouse/r/a.json")

	list, err := store.List(ctx, "r/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "r/a.json", list[0].Key)
	assert.Equal(t, "r/b.csv", list[1].Key)

	bucket.failList = true
	_, err = store.List(ctx, "")
	assert.Error(t, err)
}

func TestStoreValidation(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)

	store := newTestStore(t, newFakeBucket(), "")
	ctx := context.Background()
	_, err = store.Put(ctx, "../x", strings.NewReader("x"), core.PutOptions{})
	assert.Error(t, err)
	_, _, err = store.Get(ctx, "")
	assert.Error(t, err)
	_, err = store.Delete(ctx, "/abs")
	assert.Error(t, err)
	_, err = store.URL(ctx, "..", 0)
	assert.Error(t, err)
}

func TestStoreIgnoresAmbientCABundle(t *testing.T) {
	t.Setenv("AWS_CA_BUNDLE", filepath.Join(t.TempDir(), "missing-ca.pem"))
	store := newTestStore(t, newFakeBucket(), "")
	_, err := store.Put(context.Background(), "exports/ca.json", strings.NewReader(`{}`), core.PutOptions{})
	require.NoError(t, err)
}
