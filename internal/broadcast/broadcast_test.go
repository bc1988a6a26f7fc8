package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldDeliverPublishedMessagesInOrder(t *testing.T) {
	b := New(8)
	sub := b.Subscribe()
	defer sub.Close()

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish([]byte(m)))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := sub.Recv(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestShouldNotSeeMessagesPublishedBeforeSubscribe(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Publish([]byte("old")))

	sub := b.Subscribe()
	require.NoError(t, b.Publish([]byte("new")))

	got, err := sub.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestShouldDrainBufferBeforeReportingClosed(t *testing.T) {
	b := New(8)
	sub := b.Subscribe()

	require.NoError(t, b.Publish([]byte("x")))
	b.Close()

	got, err := sub.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	_, err = sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShouldReportLaggedWhenSubscriberFallsBehind(t *testing.T) {
	b := New(2)
	sub := b.Subscribe()

	for _, m := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, b.Publish([]byte(m)))
	}

	_, err := sub.Recv(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLagged))

	var lagged *LaggedError
	require.ErrorAs(t, err, &lagged)
	assert.Equal(t, uint64(3), lagged.Missed)

	// после отставания курсор встает на самое старое сообщение в буфере
	got, err := sub.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", string(got))
}

func TestShouldWakeWaitingSubscriber(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	received := make(chan string, 1)
	go func() {
		msg, err := sub.Recv(context.Background())
		if err == nil {
			received <- string(msg)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Publish([]byte("late")))

	select {
	case msg := <-received:
		assert.Equal(t, "late", msg)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken up")
	}
}

func TestShouldStopWaitingOnContextCancel(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShouldTrackSubscriberCount(t *testing.T) {
	b := New(4)
	assert.Equal(t, 0, b.Subscribers())

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	s1.Close()
	s1.Close()
	assert.Equal(t, 1, b.Subscribers())

	s2.Close()
	assert.Equal(t, 0, b.Subscribers())
}

func TestShouldRejectPublishAfterClose(t *testing.T) {
	b := New(4)
	b.Close()
	b.Close()

	assert.ErrorIs(t, b.Publish([]byte("x")), ErrClosed)

	sub := b.Subscribe()
	_, err := sub.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
