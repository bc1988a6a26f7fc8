package store

import (
	"context"
	"errors"
	"io"

	"github.com/Gammanik/livestore/internal/broadcast"
	"github.com/Gammanik/livestore/internal/metrics"
	"github.com/Gammanik/livestore/internal/resource"
)

// Delivery последовательность чанков одного ресурса: сначала все, что было
// в буфере на момент открытия, затем живые чанки без пропусков и повторов.
// Delivery держит ссылку на запись, поэтому удаление или перезапись пути
// не прерывает уже идущую выдачу.
type Delivery struct {
	rec      *resource.Record
	snapshot [][]byte
	pos      int
	sub      *broadcast.Subscription
	metrics  *metrics.Metrics
	outcome  string
	closed   bool
}

// Open находит ресурс и фиксирует точку начала выдачи
func (s *Store) Open(path string) (*Delivery, error) {
	rec, ok := s.ns.Lookup(path)
	if !ok {
		return nil, ErrNotFound
	}

	snapshot, sub := rec.CaptureAndSubscribe()
	s.opts.Metrics.DeliveryStarted()

	return &Delivery{
		rec:      rec,
		snapshot: snapshot,
		sub:      sub,
		metrics:  s.opts.Metrics,
		outcome:  "aborted",
	}, nil
}

// Info метаданные выдаваемой записи
func (d *Delivery) Info() resource.Info {
	return d.rec.Info()
}

// Live сообщает, будет ли выдача ждать новых чанков после буфера
func (d *Delivery) Live() bool {
	return d.sub != nil
}

// Next возвращает следующий чанк. io.EOF означает штатное завершение,
// ошибка, совместимая с ErrLagged, означает, что часть данных потеряна
// и выдачу нужно повторить с начала.
func (d *Delivery) Next(ctx context.Context) ([]byte, error) {
	if d.pos < len(d.snapshot) {
		chunk := d.snapshot[d.pos]
		d.pos++
		d.metrics.ChunkDelivered(len(chunk))
		return chunk, nil
	}

	if d.sub == nil {
		d.outcome = "complete"
		return nil, io.EOF
	}

	chunk, err := d.sub.Recv(ctx)
	switch {
	case err == nil:
		d.metrics.ChunkDelivered(len(chunk))
		return chunk, nil
	case errors.Is(err, broadcast.ErrClosed):
		d.outcome = "complete"
		return nil, io.EOF
	case errors.Is(err, broadcast.ErrLagged):
		d.outcome = "lagged"
		return nil, err
	default:
		return nil, err
	}
}

// Stream передает каждый чанк в fn до конца выдачи. Штатное завершение
// возвращает nil.
func (d *Delivery) Stream(ctx context.Context, fn func([]byte) error) error {
	for {
		chunk, err := d.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(chunk); err != nil {
			return err
		}
	}
}

// Close освобождает подписку. Повторный вызов ничего не делает.
func (d *Delivery) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.sub != nil {
		d.sub.Close()
	}
	d.metrics.DeliveryFinished(d.outcome)
}
