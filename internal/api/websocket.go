package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Gammanik/livestore/internal/store"
)

const closeWriteTimeout = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamWebSocket отдает ресурс по WebSocket: одно бинарное сообщение на чанк,
// так что границы чанков сохраняются. Штатный конец выдачи закрывает
// соединение кодом 1000, отставание от загрузки кодом 1011.
func streamWebSocket(w http.ResponseWriter, r *http.Request, d *store.Delivery) {
	info := d.Info()
	logger := log.WithFields(logrus.Fields{"path": info.Path, "upload_id": info.UploadID})

	conn, err := upgrader.Upgrade(w, r, http.Header{HeaderUploadID: []string{info.UploadID}})
	if err != nil {
		// Upgrade уже ответил клиенту ошибкой
		logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// читаем входящие кадры только чтобы заметить закрытие со стороны клиента
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = d.Stream(ctx, func(chunk []byte) error {
		return conn.WriteMessage(websocket.BinaryMessage, chunk)
	})

	code, reason := websocket.CloseNormalClosure, ""
	switch {
	case err == nil:
		logger.Debug("Finished sending WebSocket stream")
	case errors.Is(err, store.ErrLagged):
		logger.WithError(err).Error("Reader lagged behind upload, closing WebSocket")
		code, reason = websocket.CloseInternalServerErr, "lagged behind upload, retry"
	default:
		logger.WithError(err).Debug("WebSocket stream interrupted")
		return
	}

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
		logger.WithError(err).Debug("Failed to send close frame")
	}
}
