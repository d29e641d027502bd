package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"RegimeSim/internal/domain/models"
	xhttp "RegimeSim/pkg/http"
	xlogger "RegimeSim/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	readWait     = 30 * time.Second
	pingInterval = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16384,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Frame types sent over the stream.
const (
	framePath   = "path"
	frameReport = "report"
	frameError  = "error"
)

type streamFrame struct {
	Type   string                   `json:"type"`
	RunID  string                   `json:"run_id,omitempty"`
	Path   *models.SimulationPath   `json:"path,omitempty"`
	Report *models.SimulationReport `json:"report,omitempty"`
	Errors interface{}              `json:"errors,omitempty"`
}

// Stream upgrades to a websocket, reads one SimulateRequest and writes one
// frame per path followed by a report frame. Failures are sent as an error
// frame before the socket closes.
func (h *ScenariosEchoHandler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", xlogger.Error(err))
		return nil // upgrader already replied
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	req := &models.SimulateRequest{}
	if err := conn.ReadJSON(req); err != nil {
		h.writeFrame(conn, streamFrame{Type: frameError, Errors: []xhttp.ValidationError{{Code: "ERR_BIND", Message: err.Error()}}})
		return nil
	}
	if verr := xhttp.ValidateStruct(ctx, req); verr != nil {
		h.writeFrame(conn, streamFrame{Type: frameError, Errors: verr})
		return nil
	}
	if ok, wait := h.limiter.Allow(c.RealIP(), weight(req)); !ok {
		h.writeFrame(conn, streamFrame{Type: frameError, Errors: []*xhttp.AppError{rateLimited(wait)}})
		return nil
	}

	// the client only sends control frames from here on; a read error means
	// it went away
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go h.ping(conn, done)

	res, err := h.engine.Stream(ctx, simulateInput(req), func(p models.SimulationPath) error {
		return h.writeFrame(conn, streamFrame{Type: framePath, Path: &p})
	})
	if err != nil {
		if res == nil {
			h.writeFrame(conn, streamFrame{Type: frameError, Errors: []*xhttp.AppError{toAppError(err)}})
		}
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("stream ended early", xlogger.Error(err))
		}
		return nil
	}
	h.writeFrame(conn, streamFrame{Type: frameReport, RunID: res.RunID, Report: &res.Report})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(writeWait))
	return nil
}

// writeFrame is the only data writer; ping uses WriteControl.
func (h *ScenariosEchoHandler) writeFrame(conn *websocket.Conn, f streamFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (h *ScenariosEchoHandler) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
