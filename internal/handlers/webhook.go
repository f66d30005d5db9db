package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"wemeet/internal/geo"
	"wemeet/internal/metrics"
	"wemeet/internal/models"
	"wemeet/internal/service"
	"wemeet/internal/telegram"
)

// User-facing copy. Kept close to the original bot wording.
const (
	askGroupText    = "Hi! Please enter the name of your group:"
	noUsernameText  = "Users must have a username to use this bot. Please update your Telegram profile and retry. To get help use /help command. To start again when ready use /start."
	noOneNearText   = "Sorry, no one is around at this time. To get help use /help command. To start again use /start."
	badLocationText = "That location doesn't look right. Please share it again."
	restartText     = "Please use /start to begin again."
	failureText     = "Something went wrong on our side. Please try again in a moment."
	helpText        = "Please use /start command to start or restart the bot.\nWe store the location information that you submitted for 24 hours maximum."
)

// MeetService defines the presence operations the webhook dispatches into
type MeetService interface {
	Start(ctx context.Context, memberID string) (service.StartResult, error)
	Register(ctx context.Context, memberID, rawGroup string) (string, error)
	SelectRadius(ctx context.Context, memberID string, radiusKm float64) error
	ShareLocation(ctx context.Context, memberID string, loc models.Location) error
	FindNearby(ctx context.Context, memberID string) ([]string, error)
}

// WebhookHandler handles inbound chat-platform updates delivered over HTTP.
// Each update is classified and dispatched into the presence service; stale
// and duplicate deliveries are dropped before any state mutation or store
// I/O is attempted.
type WebhookHandler struct {
	svc       MeetService
	messenger telegram.Messenger
	dedup     *UpdateDeduper
	maxAge    time.Duration
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(svc MeetService, messenger telegram.Messenger, dedup *UpdateDeduper, maxAge time.Duration) *WebhookHandler {
	return &WebhookHandler{
		svc:       svc,
		messenger: messenger,
		dedup:     dedup,
		maxAge:    maxAge,
	}
}

// Handle processes POST /webhook
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "only POST accepted"})
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON"})
		return
	}

	switch {
	case update.Message != nil:
		h.handleMessage(w, r, &update)
	case update.CallbackQuery != nil:
		h.handleCallback(w, r, &update)
	default:
		// Updates without a message or callback carry nothing for us.
		metrics.ObserveUpdate("other", "ignored")
		h.writeJSON(w, http.StatusOK, map[string]any{"result": "ignored"})
	}
}

// handleMessage dispatches text, command and location messages
func (h *WebhookHandler) handleMessage(w http.ResponseWriter, r *http.Request, update *tgbotapi.Update) {
	msg := update.Message
	if h.dropped(w, update, msg, "message") {
		return
	}

	username := ""
	if msg.From != nil {
		username = msg.From.UserName
	}
	chatID := msg.Chat.ID
	_ = h.messenger.SendTyping(chatID)

	ctx := r.Context()
	switch {
	case msg.Text == "/start":
		h.handleStart(ctx, chatID, username)
	case msg.Text == "/help":
		h.send(chatID, helpText)
		metrics.ObserveUpdate("message", "ok")
	case msg.Location != nil:
		h.handleLocation(ctx, chatID, username, msg.Location)
	default:
		// Free text is treated as a proposed group name.
		h.handleRegister(ctx, chatID, username, msg.Text)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

// handleStart resumes the member's session
func (h *WebhookHandler) handleStart(ctx context.Context, chatID int64, username string) {
	res, err := h.svc.Start(ctx, username)
	switch {
	case errors.Is(err, service.ErrMissingIdentity):
		h.send(chatID, noUsernameText)
		metrics.ObserveUpdate("message", "ok")
	case err != nil:
		slog.Error("start failed", "member", username, "error", err)
		h.send(chatID, failureText)
		metrics.ObserveUpdate("message", "error")
	case res.Step == service.StepAskRadius:
		if err := h.messenger.SendRadiusSelector(chatID, res.Group); err != nil {
			slog.Warn("failed to send radius selector", "error", err)
		}
		metrics.ObserveUpdate("message", "ok")
	default:
		h.send(chatID, askGroupText)
		metrics.ObserveUpdate("message", "ok")
	}
}

// handleRegister enrolls the member in the group they typed
func (h *WebhookHandler) handleRegister(ctx context.Context, chatID int64, username, rawGroup string) {
	group, err := h.svc.Register(ctx, username, rawGroup)
	var unknown *service.UnknownGroupError
	switch {
	case errors.Is(err, service.ErrMissingIdentity):
		h.send(chatID, noUsernameText)
		metrics.ObserveUpdate("message", "ok")
	case errors.As(err, &unknown):
		// Recoverable: prompt the member to re-enter the name.
		h.send(chatID, askGroupText)
		metrics.ObserveUpdate("message", "ok")
	case err != nil:
		slog.Error("register failed", "member", username, "error", err)
		h.send(chatID, failureText)
		metrics.ObserveUpdate("message", "error")
	default:
		h.send(chatID, "You were added to the group "+group)
		if err := h.messenger.SendRadiusSelector(chatID, group); err != nil {
			slog.Warn("failed to send radius selector", "error", err)
		}
		metrics.ObserveUpdate("message", "ok")
	}
}

// handleLocation records the shared location and answers with who is nearby
func (h *WebhookHandler) handleLocation(ctx context.Context, chatID int64, username string, tgLoc *tgbotapi.Location) {
	loc := models.Location{
		Latitude:  tgLoc.Latitude,
		Longitude: tgLoc.Longitude,
	}

	err := h.svc.ShareLocation(ctx, username, loc)
	switch {
	case errors.Is(err, service.ErrMissingIdentity):
		h.send(chatID, noUsernameText)
		metrics.ObserveUpdate("message", "ok")
		return
	case errors.Is(err, geo.ErrInvalidCoordinate):
		h.send(chatID, badLocationText)
		if err := h.messenger.RequestLocation(chatID); err != nil {
			slog.Warn("failed to re-request location", "error", err)
		}
		metrics.ObserveUpdate("message", "ok")
		return
	case err != nil:
		slog.Error("share location failed", "member", username, "error", err)
		h.send(chatID, failureText)
		metrics.ObserveUpdate("message", "error")
		return
	}

	start := time.Now()
	nearby, err := h.svc.FindNearby(ctx, username)
	metrics.ObserveNearbyDuration(time.Since(start))

	switch {
	case errors.Is(err, service.ErrNotReady):
		slog.Warn("proximity query before member was ready", "member", username)
		h.sendRemoveKeyboard(chatID, restartText)
		metrics.ObserveUpdate("message", "ok")
	case err != nil:
		slog.Error("nearby query failed", "member", username, "error", err)
		h.send(chatID, failureText)
		metrics.ObserveUpdate("message", "error")
	case len(nearby) > 0:
		handles := make([]string, len(nearby))
		for i, id := range nearby {
			handles[i] = "@" + id
		}
		h.sendRemoveKeyboard(chatID, "The following members are near you "+strings.Join(handles, ", "))
		metrics.ObserveUpdate("message", "ok")
	default:
		h.sendRemoveKeyboard(chatID, noOneNearText)
		metrics.ObserveUpdate("message", "ok")
	}
}

// handleCallback processes inline keyboard selections (the radius menu)
func (h *WebhookHandler) handleCallback(w http.ResponseWriter, r *http.Request, update *tgbotapi.Update) {
	cq := update.CallbackQuery
	if cq.Message == nil {
		metrics.ObserveUpdate("callback", "ignored")
		h.writeJSON(w, http.StatusOK, map[string]any{"result": "ignored"})
		return
	}
	if h.dropped(w, update, cq.Message, "callback") {
		return
	}

	username := ""
	if cq.From != nil {
		username = cq.From.UserName
	}
	chatID := cq.Message.Chat.ID
	_ = h.messenger.SendTyping(chatID)

	km, err := strconv.Atoi(strings.TrimSpace(cq.Data))
	if err != nil {
		slog.Warn("expected a radius digit in callback data", "data", cq.Data)
		metrics.ObserveUpdate("callback", "ignored")
		h.writeJSON(w, http.StatusOK, map[string]any{"result": "ignored"})
		return
	}

	switch err := h.svc.SelectRadius(r.Context(), username, float64(km)); {
	case errors.Is(err, service.ErrMissingIdentity):
		h.send(chatID, noUsernameText)
		metrics.ObserveUpdate("callback", "ok")
	case err != nil:
		slog.Error("select radius failed", "member", username, "error", err)
		h.send(chatID, failureText)
		metrics.ObserveUpdate("callback", "error")
	default:
		if err := h.messenger.EditText(chatID, cq.Message.MessageID, fmt.Sprintf("You selected %d km search radius", km)); err != nil {
			slog.Warn("failed to edit radius message", "error", err)
		}
		if err := h.messenger.AnswerCallback(cq.ID); err != nil {
			slog.Warn("failed to answer callback", "error", err)
		}
		if err := h.messenger.RequestLocation(chatID); err != nil {
			slog.Warn("failed to request location", "error", err)
		}
		metrics.ObserveUpdate("callback", "ok")
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"result": "ok"})
}

// dropped checks the staleness threshold and the duplicate-delivery cache.
// Drops are logged and counted, never surfaced to the member.
func (h *WebhookHandler) dropped(w http.ResponseWriter, update *tgbotapi.Update, msg *tgbotapi.Message, kind string) bool {
	age := time.Since(eventTime(msg))
	if age > h.maxAge {
		slog.Info("dropping stale update", "update_id", update.UpdateID, "age", age)
		metrics.ObserveUpdate(kind, "dropped_stale")
		h.writeJSON(w, http.StatusOK, map[string]any{"result": "dropped", "reason": "stale"})
		return true
	}

	if h.dedup.Seen(update.UpdateID) {
		slog.Info("dropping duplicate update", "update_id", update.UpdateID)
		metrics.ObserveUpdate(kind, "dropped_duplicate")
		h.writeJSON(w, http.StatusOK, map[string]any{"result": "dropped", "reason": "duplicate"})
		return true
	}

	return false
}

// eventTime is the message's original receipt time, or the edit time for
// edited messages
func eventTime(msg *tgbotapi.Message) time.Time {
	if msg.EditDate > 0 {
		return time.Unix(int64(msg.EditDate), 0)
	}
	return msg.Time()
}

func (h *WebhookHandler) send(chatID int64, text string) {
	if err := h.messenger.SendText(chatID, text); err != nil {
		slog.Warn("failed to send message", "error", err)
	}
}

func (h *WebhookHandler) sendRemoveKeyboard(chatID int64, text string) {
	if err := h.messenger.SendTextRemoveKeyboard(chatID, text); err != nil {
		slog.Warn("failed to send message", "error", err)
	}
}

// writeJSON writes a JSON response
func (h *WebhookHandler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
