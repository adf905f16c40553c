package session

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yearsky/nara-companion/internal/model/chat"
	speechmodel "github.com/yearsky/nara-companion/internal/model/speech"
	"github.com/yearsky/nara-companion/internal/service/credit"
	"github.com/yearsky/nara-companion/internal/service/emotion"
	sessionService "github.com/yearsky/nara-companion/internal/service/session"
	"github.com/yearsky/nara-companion/internal/service/speech"
	"github.com/yearsky/nara-companion/pkg/utils"
)

// Handler exposes the session engine over HTTP.
type Handler struct {
	orch       *sessionService.Orchestrator
	transcript *sessionService.Transcript
	history    *sessionService.History
	scheduler  *sessionService.Scheduler
	credits    *credit.Meter
	emotions   *emotion.State
	maxClip    int64
}

// New creates the session handler.
func New(
	orch *sessionService.Orchestrator,
	transcript *sessionService.Transcript,
	history *sessionService.History,
	scheduler *sessionService.Scheduler,
	credits *credit.Meter,
	emotions *emotion.State,
	maxClip int64,
) *Handler {
	return &Handler{
		orch:       orch,
		transcript: transcript,
		history:    history,
		scheduler:  scheduler,
		credits:    credits,
		emotions:   emotions,
		maxClip:    maxClip,
	}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Post("/messages", h.handleSendMessage)
		r.Get("/messages", h.handleListMessages)
		r.Post("/voice", h.handleSendVoice)
		r.Get("/history", h.handleHistory)
		r.Delete("/history", h.handleClearHistory)
		r.Get("/credits", h.handleGetCredits)
		r.Put("/credits", h.handleSetCredits)
		r.Put("/viewport", h.handleSetViewport)
		r.Get("/emotion", h.handleEmotionSnapshot)
		r.Get("/emotion/stream", h.handleEmotionStream)
	})
}

type turnContextPayload struct {
	Topic    string `json:"topic"`
	Location string `json:"location"`
	Detail   string `json:"detail"`
}

func (p turnContextPayload) toModel() chat.TurnContext {
	return chat.TurnContext{Topic: p.Topic, Location: p.Location, Detail: p.Detail}
}

type turnResponse struct {
	Message   chat.Message `json:"message"`
	Balance   int          `json:"balance"`
	LowCredit bool         `json:"lowCredit"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text    string             `json:"text"`
		Context turnContextPayload `json:"context"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.orch.SendMessage(r.Context(), payload.Text, payload.Context.toModel())
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, turnResponse{
		Message:   reply,
		Balance:   h.credits.Balance(),
		LowCredit: h.credits.IsLow(),
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages := h.transcript.List()
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleSendVoice(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	if h.maxClip > 0 && header.Size > h.maxClip {
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio clip exceeds size ceiling")
		return
	}

	var ctxPayload turnContextPayload
	if raw := r.FormValue("context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ctxPayload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid context field")
			return
		}
	}

	format := r.FormValue("format")
	if format == "" {
		format = "wav"
	}

	req := &speechmodel.ASRRequest{
		AudioData: io.Reader(file),
		SizeBytes: header.Size,
		Format:    format,
		Language:  r.FormValue("language"),
	}

	reply, err := h.orch.SendRecordedVoice(r.Context(), req, ctxPayload.toModel())
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, turnResponse{
		Message:   reply,
		Balance:   h.credits.Balance(),
		LowCredit: h.credits.IsLow(),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	conversations := h.history.ReconstructConversations()
	if conversations == nil {
		conversations = []chat.Conversation{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversations": conversations,
		"visible":       h.history.VisibleMessages(),
	})
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	// The transcript empties first so its removal events propagate through
	// the synchronizer; ClearHistory then wipes the disposed set and the
	// persisted rows.
	h.transcript.Clear()
	h.history.ClearHistory()
	log.Println("[session] history cleared by request")
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"balance":   h.credits.Balance(),
		"lowCredit": h.credits.IsLow(),
	})
}

func (h *Handler) handleSetCredits(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Balance *int `json:"balance"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Balance == nil {
		utils.RespondError(w, http.StatusBadRequest, "balance is required")
		return
	}

	h.credits.Set(*payload.Balance)
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"balance":   h.credits.Balance(),
		"lowCredit": h.credits.IsLow(),
	})
}

func (h *Handler) handleSetViewport(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		KeepLast *int `json:"keepLast"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.KeepLast == nil {
		utils.RespondError(w, http.StatusBadRequest, "keepLast is required")
		return
	}

	h.scheduler.SetKeepLast(*payload.KeepLast)
	utils.RespondJSON(w, http.StatusOK, map[string]int{"keepLast": h.scheduler.KeepLast()})
}

func (h *Handler) handleEmotionSnapshot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.emotions.Current())
}

func (h *Handler) handleEmotionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	snapshots, cancel := h.emotions.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, open := <-snapshots:
			if !open {
				return
			}
			utils.SendSSEEvent(w, flusher, "emotion", snap)
		}
	}
}

func (h *Handler) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessionService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sessionService.ErrInsufficientCredit):
		utils.RespondError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, sessionService.ErrTurnInFlight):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sessionService.ErrNothingHeard):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, speech.ErrClipTooLarge):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, speech.ErrTranscriptionFailed):
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("[session] turn failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "turn failed")
	}
}
