package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/yearsky/nara-companion/internal/capture"
	"github.com/yearsky/nara-companion/internal/model/chat"
	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
)

// Turner runs the voice turn after a recording finishes. Satisfied by the
// session orchestrator.
type Turner interface {
	SendRecordedVoice(ctx context.Context, req *speechmodel.ASRRequest, turnCtx chat.TurnContext) (chat.Message, error)
}

// WebSocketHandler streams microphone chunks in and live level readings
// out. The recorder owns the single device claim, so exactly one client may
// record at a time; a dropped connection mid-recording aborts the take.
type WebSocketHandler struct {
	recorder *capture.Recorder
	turner   Turner
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the capture handler.
func NewWebSocketHandler(recorder *capture.Recorder, turner Turner) *WebSocketHandler {
	return &WebSocketHandler{
		recorder: recorder,
		turner:   turner,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/capture/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type     string `json:"type"` // start, chunk, stop, abort
	Data     []byte `json:"data,omitempty"`
	Language string `json:"language,omitempty"`
	Context  struct {
		Topic    string `json:"topic"`
		Location string `json:"location"`
		Detail   string `json:"detail"`
	} `json:"context"`
}

type outboundMessage struct {
	Type     string        `json:"type"` // level, turn, error
	Volume   int           `json:"volume,omitempty"`
	Waveform []byte        `json:"waveform,omitempty"`
	Message  *chat.Message `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[capture] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Println("[capture] websocket client connected")
	defer func() {
		// A connection dropping mid-recording is a lost device, not a stop.
		if h.recorder.IsRecording() {
			h.recorder.Abort(capture.ErrDeviceLost)
			if _, err := h.recorder.Stop(); err != nil {
				log.Printf("[capture] aborted dangling recording: %v", err)
			}
		}
		log.Println("[capture] websocket client disconnected")
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[capture] read failed: %v", err)
			}
			return
		}

		// Binary frames are raw audio; text frames carry control messages.
		if messageType == websocket.BinaryMessage {
			h.ingest(conn, payload)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.send(conn, outboundMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "start":
			if err := h.recorder.Start(); err != nil {
				h.send(conn, outboundMessage{Type: "error", Error: err.Error()})
			}
		case "chunk":
			h.ingest(conn, msg.Data)
		case "stop":
			h.finish(r.Context(), conn, msg)
		case "abort":
			h.recorder.Abort(capture.ErrDeviceLost)
			if _, err := h.recorder.Stop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
				log.Printf("[capture] recording aborted: %v", err)
			}
		default:
			h.send(conn, outboundMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

// ingest buffers a chunk and answers with the live level reading the shell
// renders as the mic visualizer.
func (h *WebSocketHandler) ingest(conn *websocket.Conn, chunk []byte) {
	h.recorder.Ingest(chunk)
	h.send(conn, outboundMessage{
		Type:     "level",
		Volume:   h.recorder.SampleVolume(),
		Waveform: h.recorder.SampleWaveform(),
	})
}

// finish stops the recording and runs the voice turn.
func (h *WebSocketHandler) finish(ctx context.Context, conn *websocket.Conn, msg inboundMessage) {
	clip, err := h.recorder.Stop()
	if err != nil {
		h.send(conn, outboundMessage{Type: "error", Error: err.Error()})
		return
	}

	req := &speechmodel.ASRRequest{
		AudioData: bytes.NewReader(clip.Data),
		SizeBytes: int64(len(clip.Data)),
		Format:    clip.Format,
		Language:  msg.Language,
	}

	reply, err := h.turner.SendRecordedVoice(ctx, req, chat.TurnContext{
		Topic:    msg.Context.Topic,
		Location: msg.Context.Location,
		Detail:   msg.Context.Detail,
	})
	if err != nil {
		h.send(conn, outboundMessage{Type: "error", Error: err.Error()})
		return
	}

	h.send(conn, outboundMessage{Type: "turn", Message: &reply})
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg outboundMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[capture] write failed: %v", err)
	}
}
