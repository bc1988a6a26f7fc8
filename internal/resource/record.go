// Package resource описывает запись о хранимом объекте: буфер чанков,
// канал живой рассылки и метаданные, защищенные собственной блокировкой.
package resource

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Gammanik/livestore/internal/broadcast"
)

// DefaultContentType используется, если при загрузке тип не указан
const DefaultContentType = "application/octet-stream"

// ErrFinalized запись уже завершена и не принимает новые чанки
var ErrFinalized = errors.New("resource: upload already finalized")

var log = logrus.WithField("logger", "resource")

// Record хранимый объект. Чанки только дописываются в конец и никогда не меняются.
type Record struct {
	mu sync.RWMutex

	path        string
	contentType string
	uploadID    string
	createdAt   time.Time
	finishedAt  time.Time

	chunks       [][]byte
	size         int64
	uploadActive bool
	broadcaster  *broadcast.Broadcaster
}

// Info метаданные записи без данных
type Info struct {
	Path        string
	ContentType string
	UploadID    string
	Streaming   bool
	Chunks      int
	Size        int64
	CreatedAt   time.Time
	FinishedAt  time.Time
}

// New создает активную запись со свежим каналом рассылки
func New(path, contentType string, capacity int) *Record {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Record{
		path:         path,
		contentType:  contentType,
		uploadID:     uuid.NewString(),
		createdAt:    time.Now(),
		uploadActive: true,
		broadcaster:  broadcast.New(capacity),
	}
}

// Path возвращает путь записи
func (r *Record) Path() string {
	return r.path
}

// UploadID возвращает идентификатор загрузки, создавшей запись
func (r *Record) UploadID() string {
	return r.uploadID
}

// ContentType неизменен после создания
func (r *Record) ContentType() string {
	return r.contentType
}

// Append дописывает чанк и публикует его подписчикам.
// Дописывание и публикация происходят под одной эксклюзивной блокировкой.
func (r *Record) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.uploadActive {
		return ErrFinalized
	}

	r.chunks = append(r.chunks, chunk)
	r.size += int64(len(chunk))

	// без подписчиков публиковать некому, история остается в chunks
	if r.broadcaster.Subscribers() > 0 {
		if err := r.broadcaster.Publish(chunk); err != nil {
			log.WithError(err).WithField("path", r.path).Error("Failed to publish chunk")
		}
	}
	return nil
}

// Finalize завершает загрузку и закрывает канал рассылки.
// Возвращает false, если запись уже была завершена.
func (r *Record) Finalize() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.uploadActive {
		return false
	}
	r.uploadActive = false
	r.finishedAt = time.Now()
	r.broadcaster.Close()
	r.broadcaster = nil
	return true
}

// CaptureAndSubscribe атомарно снимает копию буфера и подписывается на канал.
// Первым сообщением подписки будет чанк с индексом len(snapshot).
// Для завершенной записи подписка равна nil.
func (r *Record) CaptureAndSubscribe() ([][]byte, *broadcast.Subscription) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := r.chunks[:len(r.chunks):len(r.chunks)]
	if !r.uploadActive {
		return snapshot, nil
	}
	return snapshot, r.broadcaster.Subscribe()
}

// Info читает метаданные под разделяемой блокировкой
func (r *Record) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Info{
		Path:        r.path,
		ContentType: r.contentType,
		UploadID:    r.uploadID,
		Streaming:   r.uploadActive,
		Chunks:      len(r.chunks),
		Size:        r.size,
		CreatedAt:   r.createdAt,
		FinishedAt:  r.finishedAt,
	}
}
