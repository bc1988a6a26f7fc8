// Package loadtest нагружает сервер множеством параллельных загрузок,
// скачиваний и удалений одного и того же файла под разными именами.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Gammanik/livestore/internal/chunker"
	"github.com/Gammanik/livestore/internal/storage"
	"github.com/Gammanik/livestore/internal/utils"
)

var log = logrus.WithField("logger", "loadtest")

// Config параметры прогона
type Config struct {
	// Name базовое имя ресурсов, к нему добавляется -0, -1, ...
	Name        string
	Count       int
	Concurrency int

	// File локальный файл для загрузки и размер чанка при его отправке
	File        string
	ChunkSize   int64
	ContentType string
}

// Report итог прогона
type Report struct {
	Operation  string
	Total      int
	Failed     int64
	Mismatched int64
	Retried    int64
	Bytes      int64
	Duration   time.Duration
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: %d requests, %d failed, %d mismatched, %d retried, %s in %s",
		r.Operation, r.Total, r.Failed, r.Mismatched, r.Retried,
		humanize.Bytes(uint64(r.Bytes)), r.Duration.Round(time.Millisecond))
}

// Runner выполняет прогоны через клиент хранилища
type Runner struct {
	client storage.Client
	cfg    Config
}

// New создает Runner
func New(client storage.Client, cfg Config) *Runner {
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.Count
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	return &Runner{client: client, cfg: cfg}
}

func (r *Runner) resourceName(i int) string {
	return fmt.Sprintf("%s-%d", r.cfg.Name, i)
}

// run выполняет op для каждого имени, ограничивая параллелизм.
// Ошибки отдельных запросов учитываются в отчете и не прерывают прогон.
func (r *Runner) run(ctx context.Context, operation string, op func(ctx context.Context, name string, rep *Report) error) (*Report, error) {
	rep := &Report{Operation: operation, Total: r.cfg.Count}
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i := 0; i < r.cfg.Count; i++ {
		name := r.resourceName(i)
		g.Go(func() error {
			if err := op(ctx, name, rep); err != nil {
				atomic.AddInt64(&rep.Failed, 1)
				log.WithError(err).WithField("name", name).Errorf("%s failed", operation)
			}
			return ctx.Err()
		})
	}

	err := g.Wait()
	rep.Duration = time.Since(start)
	log.Info(rep.String())
	return rep, err
}

// Upload загружает файл Count раз, отправляя его чанками ChunkSize,
// и сверяет хеш принятого сервером с хешем файла
func (r *Runner) Upload(ctx context.Context) (*Report, error) {
	expected, err := fileDigest(r.cfg.File)
	if err != nil {
		return nil, err
	}

	return r.run(ctx, "upload", func(ctx context.Context, name string, rep *Report) error {
		fr, err := chunker.OpenFile(r.cfg.File, r.cfg.ChunkSize)
		if err != nil {
			return err
		}
		defer fr.Close()

		pr, pw := io.Pipe()
		go func() {
			_, err := fr.WriteTo(pw)
			pw.CloseWithError(err)
		}()

		res, err := r.client.Upload(ctx, name, r.cfg.ContentType, pr)
		pr.CloseWithError(errors.New("upload request finished"))
		if err != nil {
			return err
		}
		atomic.AddInt64(&rep.Bytes, res.Size)
		if res.SHA256 != expected {
			atomic.AddInt64(&rep.Mismatched, 1)
			log.WithField("name", name).Warnf("Stored digest %s differs from file digest %s", res.SHA256, expected)
		}
		return nil
	})
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return utils.CalculateFileSHA256(f)
}

// Download скачивает все ресурсы и сверяет размер и хеш с журналом загрузок.
// Выдача, оборванная из-за отставания от загрузки, повторяется один раз.
// Если журнал на сервере отключен, сверка пропускается.
func (r *Runner) Download(ctx context.Context) (*Report, error) {
	var warnOnce sync.Once
	return r.run(ctx, "download", func(ctx context.Context, name string, rep *Report) error {
		digest := utils.NewDigest()
		res, err := r.client.Download(ctx, name, digest)
		if errors.Is(err, storage.ErrIncomplete) {
			atomic.AddInt64(&rep.Retried, 1)
			log.WithError(err).WithField("name", name).Warn("Delivery incomplete, retrying")

			var previous string
			if res != nil {
				previous = res.UploadID
			}
			digest = utils.NewDigest()
			res, err = r.client.Download(ctx, name, digest)
			if err == nil && previous != "" && res.UploadID != previous {
				r.logOverwrite(ctx, name, previous, res.UploadID)
			}
		}
		if err != nil {
			return err
		}
		atomic.AddInt64(&rep.Bytes, res.Size)

		info, err := r.client.UploadInfo(ctx, res.UploadID)
		if errors.Is(err, storage.ErrNotFound) {
			warnOnce.Do(func() { log.Warn("Upload journal unavailable, skipping verification") })
			return nil
		}
		if err != nil {
			return err
		}

		if info.Size != digest.Size() || info.SHA256 != digest.Hex() {
			atomic.AddInt64(&rep.Mismatched, 1)
			log.WithField("name", name).Warnf("Content mismatch: stored %d bytes, received %d", info.Size, digest.Size())
		} else {
			log.WithField("name", name).Debug("Content matches")
		}
		return nil
	})
}

// logOverwrite сообщает, что между попытками путь был перезаписан
func (r *Runner) logOverwrite(ctx context.Context, name, previous, current string) {
	logger := log.WithField("name", name).WithField("previous_upload_id", previous).WithField("upload_id", current)

	history, err := r.client.UploadHistory(ctx, name)
	if err != nil {
		logger.WithError(err).Warn("Resource was overwritten between delivery attempts")
		return
	}
	logger.WithField("uploads", len(history)).Warn("Resource was overwritten between delivery attempts")
}

// Delete удаляет все ресурсы
func (r *Runner) Delete(ctx context.Context) (*Report, error) {
	return r.run(ctx, "delete", func(ctx context.Context, name string, rep *Report) error {
		return r.client.Delete(ctx, name)
	})
}
