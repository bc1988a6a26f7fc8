package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Gammanik/livestore/internal/metastore"
	"github.com/Gammanik/livestore/internal/store"
)

var (
	// ErrNotFound сервер ответил 404
	ErrNotFound = errors.New("not found")

	// ErrIncomplete выдача оборвалась до конца ресурса, запрос нужно повторить
	ErrIncomplete = errors.New("delivery incomplete")
)

// Client интерфейс для взаимодействия с сервером хранения
type Client interface {
	// Upload загружает поток по указанному пути
	Upload(ctx context.Context, path, contentType string, body io.Reader) (*store.IngestResult, error)

	// Download скачивает ресурс в w
	Download(ctx context.Context, path string, w io.Writer) (*DownloadResult, error)

	// Subscribe получает ресурс по WebSocket, вызывая fn на каждый чанк
	Subscribe(ctx context.Context, path string, fn func(chunk []byte) error) (*DownloadResult, error)

	// Delete удаляет ресурс
	Delete(ctx context.Context, path string) error

	// List перечисляет ресурсы под префиксом
	List(ctx context.Context, prefix string) ([]store.Entry, error)

	// UploadInfo возвращает запись журнала о загрузке
	UploadInfo(ctx context.Context, uploadID string) (*metastore.UploadRecord, error)

	// UploadHistory возвращает все загрузки по пути, от старых к новым
	UploadHistory(ctx context.Context, path string) ([]metastore.UploadRecord, error)
}

// DownloadResult итог скачивания
type DownloadResult struct {
	UploadID string
	Chunks   int
	Size     int64
}

// HTTPClient реализация Client поверх HTTP
type HTTPClient struct {
	client  *http.Client
	dialer  *websocket.Dialer
	baseURL string
}

// New создает HTTP клиент для сервера хранения
func New(baseURL string) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{},
		dialer:  websocket.DefaultDialer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPClient) resourceURL(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(segments, "/")
}

// Upload загружает поток по указанному пути
func (c *HTTPClient) Upload(ctx context.Context, path, contentType string, body io.Reader) (*store.IngestResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resourceURL(path), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("upload", resp)
	}

	var res store.IngestResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode upload result: %w", err)
	}
	return &res, nil
}

// Download скачивает ресурс в w. Оборванный сервером поток возвращает ErrIncomplete.
func (c *HTTPClient) Download(ctx context.Context, path string, w io.Writer) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resourceURL(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("download", resp)
	}

	res := &DownloadResult{UploadID: resp.Header.Get("X-Upload-Id")}
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			res.Chunks++
			res.Size += int64(n)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return res, werr
			}
		}
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
	}
}

// Subscribe получает ресурс по WebSocket с сохранением границ чанков
func (c *HTTPClient) Subscribe(ctx context.Context, path string, fn func(chunk []byte) error) (*DownloadResult, error) {
	wsURL := "ws" + strings.TrimPrefix(c.resourceURL(path), "http")

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	defer conn.Close()

	res := &DownloadResult{UploadID: resp.Header.Get("X-Upload-Id")}
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return res, nil
			}
			return res, fmt.Errorf("%w: %v", ErrIncomplete, err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		res.Chunks++
		res.Size += int64(len(data))
		if err := fn(data); err != nil {
			return res, err
		}
	}
}

// Delete удаляет ресурс
func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.resourceURL(path), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("delete", resp)
	}
	return nil
}

// List перечисляет ресурсы под префиксом
func (c *HTTPClient) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, "LIST", c.resourceURL(prefix), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list", resp)
	}

	var entries []store.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}
	return entries, nil
}

// UploadInfo возвращает запись журнала о загрузке
func (c *HTTPClient) UploadInfo(ctx context.Context, uploadID string) (*metastore.UploadRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/-/uploads/"+url.PathEscape(uploadID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("upload info", resp)
	}

	var rec metastore.UploadRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode upload info: %w", err)
	}
	return &rec, nil
}

// UploadHistory возвращает все загрузки по пути, от старых к новым
func (c *HTTPClient) UploadHistory(ctx context.Context, path string) ([]metastore.UploadRecord, error) {
	q := url.Values{"path": []string{path}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/-/uploads?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("upload history", resp)
	}

	var recs []metastore.UploadRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, fmt.Errorf("failed to decode upload history: %w", err)
	}
	return recs, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("failed to %s: %d - %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
