// Package store связывает пространство имен с протоколами загрузки,
// выдачи, перечисления и удаления ресурсов.
package store

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Gammanik/livestore/internal/broadcast"
	"github.com/Gammanik/livestore/internal/metastore"
	"github.com/Gammanik/livestore/internal/metrics"
	"github.com/Gammanik/livestore/internal/namespace"
)

var (
	// ErrNotFound путь отсутствует в пространстве имен
	ErrNotFound = errors.New("resource not found")

	// ErrLagged читатель отстал от загрузки, выдачу нужно начать заново
	ErrLagged = broadcast.ErrLagged
)

var log = logrus.WithField("logger", "store")

// DefaultReadBufferSize максимальный размер одного чанка при чтении тела
const DefaultReadBufferSize = 32 << 10

// Options параметры хранилища
type Options struct {
	BroadcastCapacity int
	ReadBufferSize    int
	IngestPacing      time.Duration

	// Journal необязательный журнал загрузок
	Journal metastore.Journal

	// Metrics может быть nil
	Metrics *metrics.Metrics
}

// Store хранилище ресурсов в памяти процесса
type Store struct {
	ns   *namespace.Namespace
	opts Options
}

// New создает пустое хранилище
func New(opts Options) *Store {
	if opts.BroadcastCapacity <= 0 {
		opts.BroadcastCapacity = broadcast.DefaultCapacity
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	s := &Store{ns: namespace.New(), opts: opts}
	opts.Metrics.RegisterResourceCount(s.ns.Len)
	return s
}

// Entry элемент результата перечисления
type Entry struct {
	Name        string `json:"name"`
	ContentType string `json:"content-type"`
	Streaming   bool   `json:"streaming_to_memory"`
}

// List перечисляет ресурсы под префиксом. Данные чанков не читаются.
// Пустой результат считается ErrNotFound.
func (s *Store) List(prefix string) ([]Entry, error) {
	subtree := s.ns.LookupSubtree(prefix)
	if len(subtree) == 0 {
		return nil, ErrNotFound
	}

	entries := make([]Entry, 0, len(subtree))
	for _, e := range subtree {
		info := e.Record.Info()
		entries = append(entries, Entry{
			Name:        e.Path,
			ContentType: info.ContentType,
			Streaming:   info.Streaming,
		})
	}
	return entries, nil
}

// Remove отвязывает путь. Идущие загрузки и выдачи не прерываются.
func (s *Store) Remove(path string) error {
	if !s.ns.Remove(path) {
		return ErrNotFound
	}
	log.WithField("path", path).Info("Resource removed")
	return nil
}

// Upload возвращает запись журнала о загрузке
func (s *Store) Upload(uploadID string) (*metastore.UploadRecord, error) {
	if s.opts.Journal == nil {
		return nil, ErrNotFound
	}
	rec, err := s.opts.Journal.GetUpload(uploadID)
	if errors.Is(err, metastore.ErrUploadNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Uploads возвращает историю загрузок по пути, от старых к новым.
// Пустая история считается ErrNotFound.
func (s *Store) Uploads(path string) ([]metastore.UploadRecord, error) {
	if s.opts.Journal == nil {
		return nil, ErrNotFound
	}
	recs, err := s.opts.Journal.ListUploads(path)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs, nil
}

// Len количество путей в пространстве имен
func (s *Store) Len() int {
	return s.ns.Len()
}
