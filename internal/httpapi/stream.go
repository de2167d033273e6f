package httpapi

import (
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"yuleboard/internal/core"
	"yuleboard/pkg/domain"
)

// streamBuffer is the number of frames a slow client may fall behind before
// it is disconnected.
const streamBuffer = 64

type recordsFrame struct {
	Category domain.Category `json:"category"`
	Seq      uint64          `json:"seq,omitempty"`
	Records  []domain.Record `json:"records"`
	Rejected int             `json:"rejected,omitempty"`
}

func frameOf(up core.Update) recordsFrame {
	return recordsFrame{Category: up.Category, Seq: up.Seq, Records: nonNil(up.Records), Rejected: len(up.Rejected)}
}

// handleStream sends the current records of every category, then one frame
// per applied update, until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	ctx := conn.CloseRead(r.Context())

	frames := make(chan recordsFrame, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	cancel, err := s.board.Follow(ctx, func(up core.Update) {
		select {
		case frames <- frameOf(up):
		default:
			once.Do(func() { close(overflow) })
		}
	})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "board unavailable")
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-overflow:
			_ = conn.Close(websocket.StatusPolicyViolation, "client too slow")
			return
		case f := <-frames:
			if err := wsjson.Write(ctx, conn, f); err != nil {
				return
			}
		}
	}
}
