package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gammanik/livestore/internal/metastore"
	"github.com/Gammanik/livestore/internal/metrics"
	"github.com/Gammanik/livestore/internal/storage"
	"github.com/Gammanik/livestore/internal/store"
	"github.com/Gammanik/livestore/internal/utils"
)

type testEnv struct {
	store  *store.Store
	server *httptest.Server
	client *storage.HTTPClient
}

func withServer(t *testing.T, opts store.Options, testFunc func(env *testEnv)) {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	st := store.New(opts)
	srv := httptest.NewServer(NewRouter(&ResourceHandler{Store: st, Metrics: opts.Metrics}))
	defer srv.Close()

	testFunc(&testEnv{store: st, server: srv, client: storage.New(srv.URL)})
}

func doRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// chunkSource отдает по одному чанку на Read
type chunkSource struct {
	chunks []string
}

func (s *chunkSource) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func TestShouldUploadAndDownloadResource(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		ctx := context.Background()

		res, err := env.client.Upload(ctx, "a/b", "text/plain", strings.NewReader("xy"))
		require.NoError(t, err)
		assert.True(t, res.Complete)
		assert.NotEmpty(t, res.UploadID)

		resp := doRequest(t, http.MethodGet, env.server.URL+"/a/b", nil)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "xy", string(body))
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		assert.Equal(t, res.UploadID, resp.Header.Get(HeaderUploadID))
		assert.Equal(t, int64(2), resp.ContentLength)

		modified, err := http.ParseTime(resp.Header.Get("Last-Modified"))
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), modified, time.Minute)
	})
}

func TestShouldReturnNotFoundForMissingResource(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		resp := doRequest(t, http.MethodGet, env.server.URL+"/missing/path", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		_, err := env.client.Download(context.Background(), "missing/path", io.Discard)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestShouldListResourcesUnderPrefix(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		ctx := context.Background()
		_, err := env.client.Upload(ctx, "a/b", "video/mp4", strings.NewReader("1"))
		require.NoError(t, err)
		_, err = env.client.Upload(ctx, "a/c", "", strings.NewReader("2"))
		require.NoError(t, err)

		entries, err := env.client.List(ctx, "a/*")
		require.NoError(t, err)
		assert.Equal(t, []store.Entry{
			{Name: "a/b", ContentType: "video/mp4"},
			{Name: "a/c", ContentType: "application/octet-stream"},
		}, entries)

		resp := doRequest(t, MethodList, env.server.URL+"/a/*", nil)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), `"content-type":"video/mp4"`)
		assert.Contains(t, string(body), `"streaming_to_memory":false`)

		_, err = env.client.List(ctx, "zzz")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestShouldRejectUnsupportedMethods(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		resp := doRequest(t, http.MethodPut, env.server.URL+"/a/b", strings.NewReader("x"))
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

		resp = doRequest(t, http.MethodPost, env.server.URL+"/-/healthz", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestShouldDeleteResource(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		ctx := context.Background()
		_, err := env.client.Upload(ctx, "d", "", strings.NewReader("x"))
		require.NoError(t, err)

		require.NoError(t, env.client.Delete(ctx, "d"))
		assert.ErrorIs(t, env.client.Delete(ctx, "d"), storage.ErrNotFound)
	})
}

func TestShouldStreamToReaderWhileUploading(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		ctx := context.Background()
		pr, pw := io.Pipe()

		uploaded := make(chan error, 1)
		go func() {
			_, err := env.client.Upload(ctx, "live/video", "video/mp4", pr)
			uploaded <- err
		}()

		_, err := pw.Write([]byte("chunk1"))
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			entries, err := env.store.List("live/")
			return err == nil && entries[0].Streaming
		}, 2*time.Second, 5*time.Millisecond)

		var received bytes.Buffer
		downloaded := make(chan error, 1)
		go func() {
			_, err := env.client.Download(ctx, "live/video", &received)
			downloaded <- err
		}()

		_, err = pw.Write([]byte("chunk2"))
		require.NoError(t, err)
		_, err = pw.Write([]byte("chunk3"))
		require.NoError(t, err)
		require.NoError(t, pw.Close())

		require.NoError(t, <-uploaded)
		require.NoError(t, <-downloaded)
		assert.Equal(t, "chunk1chunk2chunk3", received.String())
	})
}

func TestShouldPreserveChunkBoundariesOverWebSocket(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		_, err := env.store.Ingest(context.Background(), "ws/res", "", &chunkSource{chunks: []string{"ab", "cde"}})
		require.NoError(t, err)

		var chunks []string
		res, err := env.client.Subscribe(context.Background(), "ws/res", func(chunk []byte) error {
			chunks = append(chunks, string(chunk))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"ab", "cde"}, chunks)
		assert.Equal(t, int64(5), res.Size)

		_, err = env.client.Subscribe(context.Background(), "ws/missing", func([]byte) error { return nil })
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestShouldAbortResponseWhenReaderLags(t *testing.T) {
	st := store.New(store.Options{BroadcastCapacity: 1})
	pr, pw := io.Pipe()
	defer pw.Close()

	go st.Ingest(context.Background(), "lag", "", pr)
	_, err := pw.Write([]byte("0"))
	require.NoError(t, err)

	var d *store.Delivery
	require.Eventually(t, func() bool {
		d, err = st.Open("lag")
		return err == nil
	}, time.Second, time.Millisecond)
	defer d.Close()

	for _, c := range []string{"1", "2", "3"} {
		_, err := pw.Write([]byte(c))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return d.Info().Chunks == 4
	}, time.Second, time.Millisecond)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/lag", nil)
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		streamBody(rec, req, d)
	})
}

func scrapeMetrics(t *testing.T, baseURL string) string {
	t.Helper()
	resp := doRequest(t, http.MethodGet, baseURL+"/-/metrics", nil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestShouldCloseWebSocketWhenReaderLags(t *testing.T) {
	opts := store.Options{BroadcastCapacity: 2, ReadBufferSize: 1 << 20}
	withServer(t, opts, func(env *testEnv) {
		pr, pw := io.Pipe()
		defer pw.Close()
		go env.store.Ingest(context.Background(), "ws/lag", "", pr)

		chunk := bytes.Repeat([]byte("x"), 1<<20)
		_, err := pw.Write(chunk)
		require.NoError(t, err)

		// читатель застревает на первом чанке, пока загрузка уходит вперед
		release := make(chan struct{})
		subscribed := make(chan error, 1)
		go func() {
			_, err := env.client.Subscribe(context.Background(), "ws/lag", func([]byte) error {
				<-release
				return nil
			})
			subscribed <- err
		}()

		require.Eventually(t, func() bool {
			return strings.Contains(scrapeMetrics(t, env.server.URL), "livestore_active_deliveries 1")
		}, 2*time.Second, 5*time.Millisecond)

		// больше, чем помещается в буферы сокета, чтобы сервер отстал от рассылки
		for i := 0; i < 32; i++ {
			_, err := pw.Write(chunk)
			require.NoError(t, err)
		}
		close(release)

		select {
		case err := <-subscribed:
			assert.ErrorIs(t, err, storage.ErrIncomplete)
		case <-time.After(10 * time.Second):
			t.Fatal("subscriber did not finish")
		}
		assert.Eventually(t, func() bool {
			return strings.Contains(scrapeMetrics(t, env.server.URL), `livestore_deliveries_total{outcome="lagged"} 1`)
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestShouldRejectWebSocketForMissingResource(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		called := false
		_, err := env.client.Subscribe(context.Background(), "nothing/here", func([]byte) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.False(t, called)
	})
}

func TestShouldExposeUploadJournal(t *testing.T) {
	journal, err := metastore.NewBoltJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer journal.Close()

	withServer(t, store.Options{Journal: journal}, func(env *testEnv) {
		ctx := context.Background()
		res, err := env.client.Upload(ctx, "j/file", "", strings.NewReader("payload"))
		require.NoError(t, err)

		info, err := env.client.UploadInfo(ctx, res.UploadID)
		require.NoError(t, err)
		assert.Equal(t, "j/file", info.Path)
		assert.Equal(t, utils.CalculateSHA256([]byte("payload")), info.SHA256)
		assert.True(t, info.Complete)

		_, err = env.client.UploadInfo(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		again, err := env.client.Upload(ctx, "j/file", "", strings.NewReader("payload v2"))
		require.NoError(t, err)

		history, err := env.client.UploadHistory(ctx, "j/file")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, res.UploadID, history[0].UploadID)
		assert.Equal(t, again.UploadID, history[1].UploadID)

		_, err = env.client.UploadHistory(ctx, "j/other")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		resp := doRequest(t, http.MethodGet, env.server.URL+"/-/uploads", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestShouldServeHealthAndMetrics(t *testing.T) {
	withServer(t, store.Options{}, func(env *testEnv) {
		_, err := env.client.Upload(context.Background(), "m", "", strings.NewReader("abc"))
		require.NoError(t, err)

		resp := doRequest(t, http.MethodGet, env.server.URL+"/-/healthz", nil)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), `"resources":1`)

		resp = doRequest(t, http.MethodGet, env.server.URL+"/-/metrics", nil)
		body, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "livestore_ingested_bytes_total 3")
	})
}
