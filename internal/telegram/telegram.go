package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// RadiusChoicesKm is the fixed set of travel radii offered to members
var RadiusChoicesKm = []int{1, 2, 3, 4}

// Messenger is the outbound side of the chat transport. All sends are
// fire-and-forget from the core's perspective: no delivery confirmation
// feeds back into presence state.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextRemoveKeyboard(chatID int64, text string) error
	SendRadiusSelector(chatID int64, group string) error
	RequestLocation(chatID int64) error
	EditText(chatID int64, messageID int, text string) error
	AnswerCallback(callbackID string) error
	SendTyping(chatID int64) error
}

// Bot implements Messenger over the Telegram Bot API
type Bot struct {
	api *tgbotapi.BotAPI
}

// NewBot creates a Telegram messenger with the given bot token
func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Bot{api: api}, nil
}

// SendText sends a plain text message
func (b *Bot) SendText(chatID int64, text string) error {
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendTextRemoveKeyboard sends a plain text message and removes any custom
// reply keyboard from the member's chat
func (b *Bot) SendTextRemoveKeyboard(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	_, err := b.api.Send(msg)
	return err
}

// SendRadiusSelector sends the single-choice travel radius menu
func (b *Bot) SendRadiusSelector(chatID int64, group string) error {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			radiusButton(RadiusChoicesKm[0]),
			radiusButton(RadiusChoicesKm[1]),
		),
		tgbotapi.NewInlineKeyboardRow(
			radiusButton(RadiusChoicesKm[2]),
			radiusButton(RadiusChoicesKm[3]),
		),
	)

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"%s is your currently selected group. Please choose how far you are willing to travel:", group))
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}

// RequestLocation asks the member to share their location via a one-button
// reply keyboard
func (b *Bot) RequestLocation(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID,
		"Please share your location with me, so I can find the other group members nearby")
	msg.ReplyMarkup = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonLocation("Send Location"),
		),
	)
	_, err := b.api.Send(msg)
	return err
}

// EditText replaces the text of a previously sent message
func (b *Bot) EditText(chatID int64, messageID int, text string) error {
	_, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text))
	return err
}

// AnswerCallback acknowledges an inline keyboard selection
func (b *Bot) AnswerCallback(callbackID string) error {
	_, err := b.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// SendTyping shows the typing indicator while an event is being handled
func (b *Bot) SendTyping(chatID int64) error {
	_, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func radiusButton(km int) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d km", km), fmt.Sprintf("%d", km))
}
