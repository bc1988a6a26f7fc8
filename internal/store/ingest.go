package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/Gammanik/livestore/internal/metastore"
	"github.com/Gammanik/livestore/internal/resource"
	"github.com/Gammanik/livestore/internal/utils"
)

// IngestResult итог загрузки
type IngestResult struct {
	UploadID    string `json:"upload_id"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	Chunks      int    `json:"chunks"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	Complete    bool   `json:"complete"`
}

// Ingest создает (или заменяет) ресурс по пути и дописывает в него тело
// запроса чанк за чанком. Каждое непустое чтение из body становится одним
// чанком. Запись завершается всегда, даже при обрыве потока: в этом случае
// результат неполный, а ошибка чтения возвращается вместе с ним.
func (s *Store) Ingest(ctx context.Context, path, contentType string, body io.Reader) (*IngestResult, error) {
	rec := resource.New(path, contentType, s.opts.BroadcastCapacity)
	logger := log.WithFields(logrus.Fields{"path": path, "upload_id": rec.UploadID()})

	if old := s.ns.Insert(path, rec); old != nil {
		logger.WithField("replaced_upload_id", old.UploadID()).Debug("Replacing existing resource")
	}
	logger.Info("Receiving resource")

	started := time.Now()
	s.journalBegin(rec, started)
	s.opts.Metrics.UploadStarted()

	digest := utils.NewDigest()
	chunks := 0
	buf := make([]byte, s.opts.ReadBufferSize)

	var streamErr error
	for {
		n, err := body.Read(buf)
		if n > 0 {
			s.pace(ctx)

			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if appendErr := rec.Append(chunk); appendErr != nil {
				streamErr = appendErr
				break
			}
			digest.Write(chunk)
			chunks++
			s.opts.Metrics.ChunkIngested(n)
			logger.WithField("chunk", chunks).Debugf("Chunk received with size %d", n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}
	}

	result := &IngestResult{
		UploadID:    rec.UploadID(),
		Path:        path,
		ContentType: rec.ContentType(),
		Chunks:      chunks,
		Size:        digest.Size(),
		SHA256:      digest.Hex(),
		Complete:    streamErr == nil,
	}
	// Итог попадает в журнал до закрытия рассылки: читатель, получивший EOF,
	// уже видит завершенную запись о загрузке
	s.journalFinish(result, started, streamErr)
	s.opts.Metrics.UploadFinished(result.Complete)
	rec.Finalize()

	logger = logger.WithFields(logrus.Fields{"chunks": chunks, "size": humanize.Bytes(uint64(result.Size))})
	if streamErr != nil {
		logger.WithError(streamErr).Warn("Upload stream ended early, resource kept partial")
	} else {
		logger.Info("Finished receiving resource")
	}
	return result, streamErr
}

// pace выдерживает задержку перед обработкой чанка. Отмена контекста только
// сокращает ожидание: уже принятый чанк все равно будет дописан.
func (s *Store) pace(ctx context.Context) {
	if s.opts.IngestPacing <= 0 {
		return
	}
	t := time.NewTimer(s.opts.IngestPacing)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Store) journalBegin(rec *resource.Record, started time.Time) {
	if s.opts.Journal == nil {
		return
	}
	err := s.opts.Journal.BeginUpload(metastore.UploadRecord{
		UploadID:    rec.UploadID(),
		Path:        rec.Path(),
		ContentType: rec.ContentType(),
		StartedAt:   started,
	})
	if err != nil {
		log.WithError(err).WithField("upload_id", rec.UploadID()).Error("Failed to journal upload start")
	}
}

func (s *Store) journalFinish(res *IngestResult, started time.Time, streamErr error) {
	if s.opts.Journal == nil {
		return
	}
	entry := metastore.UploadRecord{
		UploadID:    res.UploadID,
		Path:        res.Path,
		ContentType: res.ContentType,
		Chunks:      res.Chunks,
		Size:        res.Size,
		SHA256:      res.SHA256,
		Complete:    res.Complete,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if streamErr != nil {
		entry.Error = streamErr.Error()
	}
	if err := s.opts.Journal.FinishUpload(entry); err != nil {
		log.WithError(err).WithField("upload_id", res.UploadID).Error("Failed to journal upload result")
	}
}
