// handlers_ingest.go - Local upload queue handlers
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/turna/console/internal/models"
	"github.com/turna/console/internal/upload"
)

// MIMEMsgpack is the content type of msgpack responses.
const MIMEMsgpack = "application/msgpack"

// WebSocket message types
const (
	MsgTypePending = "pending"
	MsgTypePing    = "ping"
	MsgTypePong    = "pong"
	MsgTypeError   = "error"
)

// WSMessage is the envelope of every websocket frame.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type ingestResponse struct {
	Added   int                  `json:"added" msgpack:"added"`
	Skipped int                  `json:"skipped" msgpack:"skipped"`
	Pending []models.PendingFile `json:"pending" msgpack:"pending"`
}

// IngestHandlerImpl implements the IngestHandler interface
type IngestHandlerImpl struct {
	ctx      context.Context
	queue    *upload.Queue
	uploader *upload.Uploader
	spool    Spool
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewIngestHandler creates the ingest handler. Spooled copies are deleted
// when their entry leaves the queue. ctx bounds background upload runs.
func NewIngestHandler(ctx context.Context, queue *upload.Queue, uploader *upload.Uploader, spool Spool, logger zerolog.Logger) IngestHandler {
	queue.OnRemove(func(p models.PendingFile) {
		if p.File.SpoolID == "" {
			return
		}
		if err := spool.Delete(p.File.SpoolID); err != nil {
			logger.Warn().Err(err).Str("spool_id", p.File.SpoolID).Msg("failed to delete spooled file")
		}
	})

	return &IngestHandlerImpl{
		ctx:      ctx,
		queue:    queue,
		uploader: uploader,
		spool:    spool,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleIngest spools the uploaded files, queues them and starts the uploader.
func (h *IngestHandlerImpl) HandleIngest(c echo.Context) error {
	if h.ctx.Err() != nil {
		return NewServiceUnavailableError("console is shutting down")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("expected a multipart form", err)
	}

	files := form.File["files"]
	if len(files) == 0 {
		files = form.File["file"]
	}
	if len(files) == 0 {
		return NewValidationError("files", "at least one file is required")
	}

	// last_modified is part of the file identity.
	rawModified := form.Value["last_modified"]
	if len(rawModified) != len(files) {
		return NewValidationError("last_modified", "one value per file is required")
	}
	lastModified := make([]time.Time, len(files))
	for i, raw := range rawModified {
		ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return NewValidationError("last_modified", "expected unix milliseconds")
		}
		lastModified[i] = time.UnixMilli(ms)
	}
	hospitalID := strings.TrimSpace(c.FormValue("hospital_id"))

	var resp ingestResponse
	// Files queued before a failure are still uploaded.
	defer func() {
		if resp.Added > 0 {
			h.uploader.Kick(h.ctx)
		}
	}()

	for i, fh := range files {
		src, err := fh.Open()
		if err != nil {
			return NewBadRequestError("failed to read uploaded file", err)
		}
		f, err := h.spool.Save(fh.Filename, src, lastModified[i])
		src.Close()
		if err != nil {
			return NewInternalError("failed to spool file", err)
		}
		f.HospitalID = hospitalID

		if h.queue.AddFiles([]models.LocalFile{*f}) == 0 {
			if err := h.spool.Delete(f.SpoolID); err != nil {
				h.logger.Warn().Err(err).Str("spool_id", f.SpoolID).Msg("failed to delete duplicate spooled file")
			}
			resp.Skipped++
			continue
		}
		resp.Added++
	}

	h.logger.Info().Int("added", resp.Added).Int("skipped", resp.Skipped).Msg("files queued")

	resp.Pending = h.queue.Snapshot()
	return c.JSON(http.StatusAccepted, resp)
}

// HandlePending returns the queue as JSON, or msgpack when asked for.
func (h *IngestHandlerImpl) HandlePending(c echo.Context) error {
	pending := h.queue.Snapshot()
	if pending == nil {
		pending = []models.PendingFile{}
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), MIMEMsgpack) {
		data, err := msgpack.Marshal(map[string]interface{}{
			"pending": pending,
			"count":   len(pending),
		})
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEMsgpack, data)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	})
}

// HandleRemovePending drops one entry and stops its job polling.
func (h *IngestHandlerImpl) HandleRemovePending(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return NewValidationError("index", "expected an integer")
	}

	removed, err := h.queue.RemoveFile(index)
	if err != nil {
		return NewNotFoundError("pending file", c.Param("index"))
	}
	return c.JSON(http.StatusOK, removed)
}

// HandleProcess starts an upload run if none is in progress.
func (h *IngestHandlerImpl) HandleProcess(c echo.Context) error {
	if h.ctx.Err() != nil {
		return NewServiceUnavailableError("console is shutting down")
	}
	h.uploader.Kick(h.ctx)
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"pending": h.queue.Len(),
	})
}

// HandlePendingStream pushes a queue snapshot over a websocket after every
// change.
func (h *IngestHandlerImpl) HandlePendingStream(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	updates, unsubscribe := h.queue.Subscribe()
	defer unsubscribe()

	pings := make(chan struct{}, 1)
	unknown := make(chan string, 1)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Msg("pending stream closed")
				}
				return
			}
			switch msg.Type {
			case MsgTypePing:
				select {
				case pings <- struct{}{}:
				default:
				}
			default:
				select {
				case unknown <- msg.Type:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case <-h.ctx.Done():
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return nil
		case <-pings:
			if err := h.send(ws, MsgTypePong, nil); err != nil {
				return nil
			}
		case msgType := <-unknown:
			if err := h.sendError(ws, "unknown message type: "+msgType); err != nil {
				return nil
			}
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap == nil {
				snap = []models.PendingFile{}
			}
			if err := h.send(ws, MsgTypePending, snap); err != nil {
				return nil
			}
		}
	}
}

func (h *IngestHandlerImpl) send(ws *websocket.Conn, msgType string, payload interface{}) error {
	msg := WSMessage{Type: msgType, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Warn().Err(err).Str("type", msgType).Msg("failed to encode websocket payload")
			msg.Type = MsgTypeError
			data, _ = json.Marshal(map[string]string{"message": "failed to encode " + msgType})
		}
		msg.Payload = data
	}
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteJSON(msg)
}

func (h *IngestHandlerImpl) sendError(ws *websocket.Conn, message string) error {
	return h.send(ws, MsgTypeError, map[string]string{"message": message})
}
