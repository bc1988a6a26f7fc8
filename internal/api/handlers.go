package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Gammanik/livestore/internal/metrics"
	"github.com/Gammanik/livestore/internal/store"
)

const (
	// MethodList нестандартный метод для перечисления ресурсов под префиксом
	MethodList = "LIST"

	// HeaderUploadID идентификатор загрузки, создавшей ресурс
	HeaderUploadID = "X-Upload-Id"

	headerContentType = "Content-Type"
)

var log = logrus.WithField("logger", "api")

// ResourceHandler обрабатывает запросы к ресурсам
type ResourceHandler struct {
	Store   *store.Store
	Metrics *metrics.Metrics
}

// NewRouter регистрирует маршруты. Служебные маршруты живут под /-/,
// все остальные пути принадлежат ресурсам.
func NewRouter(h *ResourceHandler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/-/healthz", h.Health)
	router.HandleFunc("/-/uploads", h.ListUploads)
	router.HandleFunc("/-/uploads/{uploadID}", h.GetUploadInfo)
	router.Handle("/-/metrics", onlyGet(h.Metrics.Handler()))

	router.HandleFunc("/{path:.+}", h.Upload).Methods(http.MethodPost)
	router.HandleFunc("/{path:.+}", h.Download).Methods(http.MethodGet)
	router.HandleFunc("/{path:.+}", h.Delete).Methods(http.MethodDelete)
	router.HandleFunc("/{path:.+}", h.List).Methods(MethodList)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		renderError(w, ErrMethodNotAllowed)
	})
	router.Use(requestLogger)

	return router
}

// Upload принимает поток и сохраняет его в память, одновременно раздавая
// чанки подключенным читателям. Обрыв соединения клиентом тоже считается
// завершением загрузки.
func (h *ResourceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	res, err := h.Store.Ingest(r.Context(), path, r.Header.Get(headerContentType), r.Body)
	if err != nil {
		log.WithError(err).WithField("path", path).Debug("Upload finished with a partial body")
	}

	w.Header().Set(HeaderUploadID, res.UploadID)
	writeJSON(w, http.StatusOK, res)
}

// Download отдает ресурс потоком: сначала буфер, затем живые чанки
func (h *ResourceHandler) Download(w http.ResponseWriter, r *http.Request) {
	path := mux.Vars(r)["path"]

	d, err := h.Store.Open(path)
	if err != nil {
		renderError(w, err)
		return
	}
	defer d.Close()

	if websocket.IsWebSocketUpgrade(r) {
		streamWebSocket(w, r, d)
		return
	}
	streamBody(w, r, d)
}

// streamBody пишет чанки в тело ответа, сбрасывая буфер после каждого.
// При отставании от загрузки соединение обрывается, чтобы клиент не принял
// неполный ответ за целый.
func streamBody(w http.ResponseWriter, r *http.Request, d *store.Delivery) {
	info := d.Info()
	logger := log.WithFields(logrus.Fields{"path": info.Path, "upload_id": info.UploadID})

	w.Header().Set(headerContentType, info.ContentType)
	w.Header().Set(HeaderUploadID, info.UploadID)
	if d.Live() {
		w.Header().Set("Last-Modified", info.CreatedAt.UTC().Format(http.TimeFormat))
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
		w.Header().Set("Last-Modified", info.FinishedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	err := d.Stream(r.Context(), func(chunk []byte) error {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		return rc.Flush()
	})

	switch {
	case err == nil:
		logger.Debug("Finished sending stream")
	case errors.Is(err, store.ErrLagged):
		logger.WithError(err).Error("Reader lagged behind upload, aborting response")
		panic(http.ErrAbortHandler)
	default:
		logger.WithError(err).Debug("Stream to client interrupted")
	}
}

// Delete удаляет ресурс из пространства имен
func (h *ResourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Remove(mux.Vars(r)["path"]); err != nil {
		renderError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// List возвращает метаданные всех ресурсов под префиксом
func (h *ResourceHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := mux.Vars(r)["path"]
	log.WithField("prefix", prefix).Info("LIST")

	entries, err := h.Store.List(prefix)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetUploadInfo возвращает запись журнала о загрузке
func (h *ResourceHandler) GetUploadInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		renderError(w, ErrMethodNotAllowed)
		return
	}

	rec, err := h.Store.Upload(mux.Vars(r)["uploadID"])
	if errors.Is(err, store.ErrNotFound) {
		renderError(w, ErrUploadNotFound)
		return
	}
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListUploads возвращает историю загрузок по пути из параметра path
func (h *ResourceHandler) ListUploads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		renderError(w, ErrMethodNotAllowed)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		renderError(w, ErrMissingPath)
		return
	}

	recs, err := h.Store.Uploads(path)
	if errors.Is(err, store.ErrNotFound) {
		renderError(w, ErrUploadNotFound)
		return
	}
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Health состояние сервиса
func (h *ResourceHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		renderError(w, ErrMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "online",
		"resources": h.Store.Len(),
	})
}

func onlyGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			renderError(w, ErrMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(headerContentType, "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Failed to write JSON response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"uri":      r.RequestURI,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("Request served")
	})
}
