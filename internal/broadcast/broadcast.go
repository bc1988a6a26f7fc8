// Package broadcast реализует ограниченный канал "один ко многим" поверх
// кольцевого буфера. Издатель никогда не блокируется: если подписчик отстал
// больше чем на ёмкость буфера, он получает LaggedError вместо пропущенных
// сообщений.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultCapacity ёмкость буфера по умолчанию
const DefaultCapacity = 5000

var (
	// ErrClosed канал закрыт и все буферизованные сообщения уже прочитаны
	ErrClosed = errors.New("broadcast: channel closed")

	// ErrLagged подписчик отстал и потерял часть сообщений
	ErrLagged = errors.New("broadcast: subscriber lagged")
)

// LaggedError сообщает, сколько сообщений подписчик пропустил
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, missed %d messages", e.Missed)
}

// Is позволяет сравнивать через errors.Is(err, ErrLagged)
func (e *LaggedError) Is(target error) bool {
	return target == ErrLagged
}

// Broadcaster рассылает каждое опубликованное сообщение всем текущим подписчикам
type Broadcaster struct {
	mu     sync.Mutex
	ring   [][]byte
	tail   uint64 // порядковый номер следующей публикации
	closed bool
	wake   chan struct{}
	subs   int
}

// New создает Broadcaster с указанной ёмкостью
func New(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcaster{
		ring: make([][]byte, capacity),
		wake: make(chan struct{}),
	}
}

// Publish добавляет сообщение в буфер, вытесняя самое старое при переполнении
func (b *Broadcaster) Publish(msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.ring[b.tail%uint64(len(b.ring))] = msg
	b.tail++
	b.signal()
	return nil
}

// Subscribe возвращает подписку, первым сообщением которой будет следующая публикация
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{b: b, next: b.tail}
	if b.closed {
		sub.done = true
		return sub
	}
	b.subs++
	return sub
}

// Subscribers возвращает число активных подписок
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

// Close закрывает канал. Подписчики дочитывают буфер и получают ErrClosed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.signal()
}

// signal будит всех ожидающих подписчиков. Вызывается под b.mu.
func (b *Broadcaster) signal() {
	close(b.wake)
	b.wake = make(chan struct{})
}

// Subscription курсор одного подписчика
type Subscription struct {
	b    *Broadcaster
	next uint64
	done bool
}

// Recv ждет следующее сообщение. Возвращает ровно один из результатов:
// сообщение, *LaggedError, ErrClosed или ошибку контекста.
func (s *Subscription) Recv(ctx context.Context) ([]byte, error) {
	b := s.b
	for {
		b.mu.Lock()
		if s.done {
			b.mu.Unlock()
			return nil, ErrClosed
		}

		capacity := uint64(len(b.ring))
		if b.tail > capacity && s.next < b.tail-capacity {
			oldest := b.tail - capacity
			missed := oldest - s.next
			s.next = oldest
			b.mu.Unlock()
			return nil, &LaggedError{Missed: missed}
		}

		if s.next < b.tail {
			msg := b.ring[s.next%capacity]
			s.next++
			b.mu.Unlock()
			return msg, nil
		}

		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}

		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close отписывается от канала. Повторный вызов ничего не делает.
func (s *Subscription) Close() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	b.subs--
}
