package metastore

import (
	"errors"
	"time"
)

// ErrUploadNotFound запись о загрузке не найдена
var ErrUploadNotFound = errors.New("upload not found")

// UploadRecord содержит сведения об одной загрузке ресурса
type UploadRecord struct {
	UploadID    string    `json:"upload_id"`             // Идентификатор загрузки
	Path        string    `json:"path"`                  // Путь ресурса
	ContentType string    `json:"content_type"`          // Объявленный тип содержимого
	Chunks      int       `json:"chunks"`                // Количество принятых чанков
	Size        int64     `json:"size"`                  // Общий размер в байтах
	SHA256      string    `json:"sha256,omitempty"`      // Хеш принятых данных
	Complete    bool      `json:"complete"`              // Поток дочитан до EOF
	Error       string    `json:"error,omitempty"`       // Причина обрыва потока
	StartedAt   time.Time `json:"started_at"`            // Начало загрузки
	FinishedAt  time.Time `json:"finished_at,omitempty"` // Завершение загрузки
}

// Journal интерфейс журнала загрузок. Хранит только метаданные,
// сами данные ресурсов живут в памяти процесса.
type Journal interface {
	// BeginUpload регистрирует начало загрузки
	BeginUpload(rec UploadRecord) error

	// FinishUpload сохраняет итог загрузки
	FinishUpload(rec UploadRecord) error

	// GetUpload возвращает запись о загрузке
	GetUpload(uploadID string) (*UploadRecord, error)

	// ListUploads возвращает все загрузки по пути, от старых к новым
	ListUploads(path string) ([]UploadRecord, error)

	// Close закрывает журнал
	Close() error
}
