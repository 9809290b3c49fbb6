package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool
	},
}

// streamOutcomes pushes every outcome from ?from=N onwards as a JSON text
// message and closes normally once the run is over.
func (s *Server) streamOutcomes(w http.ResponseWriter, r *http.Request) {
	from, err := parseFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.L.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read loop only notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	stream := s.run.Stream()
	cursor := from
	for {
		batch, err := stream.Next(ctx, cursor)
		if errors.Is(err, io.EOF) {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
		if err != nil {
			return
		}

		for _, o := range batch {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(o); err != nil {
				logging.L.Debug("websocket write error", zap.Error(err))
				return
			}
		}

		cursor += len(batch)
	}
}
