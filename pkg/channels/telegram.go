package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/HKUDS/imagebot-go/pkg/bus"
	"github.com/HKUDS/imagebot-go/pkg/config"
)

const (
	telegramChannelName = "telegram"
	pollErrorBackoff    = 3 * time.Second
	photoFileName       = "image.png"
)

var ErrNotStarted = errors.New("telegram: bot not started")

// contextClient binds every Bot API call to the channel lifetime so Stop
// interrupts a pending long poll.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c *contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// botLogger routes the library's own log lines into zerolog.
type botLogger struct {
	logger zerolog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.logger.Debug().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}

// TelegramChannel implements the Telegram channel with long polling. It is
// also the dialog's Messenger.
type TelegramChannel struct {
	BaseChannel
	Config *config.TelegramConfig
	logger zerolog.Logger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg *config.TelegramConfig, messageBus *bus.MessageBus, logger *zerolog.Logger) *TelegramChannel {
	c := &TelegramChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		logger: zerolog.Nop(),
	}
	if logger != nil {
		c.logger = logger.With().Str("channel", telegramChannelName).Logger()
	}
	return c
}

func (c *TelegramChannel) Name() string {
	return telegramChannelName
}

// Start authorizes the bot, drops updates queued while it was offline and
// starts the polling loop.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if c.Config.Token == "" {
		return config.ErrMissingTelegramToken
	}

	endpoint := c.Config.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	pollCtx, cancel := context.WithCancel(ctx)
	client := &contextClient{
		ctx:    pollCtx,
		client: &http.Client{Timeout: c.Config.RequestTimeout},
	}

	_ = tgbotapi.SetLogger(botLogger{logger: c.logger})
	bot, err := tgbotapi.NewBotAPIWithClient(c.Config.Token, endpoint, client)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.logger.Info().Str("username", bot.Self.UserName).Msg("telegram bot authorized")

	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to drop pending updates")
	}

	c.mu.Lock()
	c.bot = bot
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.poll(pollCtx, bot)
	}()
	return nil
}

// Stop ends polling and waits for the loop to exit.
func (c *TelegramChannel) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	c.logger.Info().Msg("telegram polling stopped")
	return nil
}

func (c *TelegramChannel) poll(ctx context.Context, bot *tgbotapi.BotAPI) {
	offset := 0
	for ctx.Err() == nil {
		u := tgbotapi.NewUpdate(offset)
		u.Timeout = int(c.Config.PollTimeout / time.Second)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isConflict(err) {
				offset = c.resync(ctx, bot, offset)
				continue
			}
			c.logger.Error().Err(err).Msg("getUpdates failed")
			sleep(ctx, pollErrorBackoff)
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			c.handleUpdate(ctx, update)
		}
	}
}

// resync handles another process polling with the same token: pause, then
// confirm everything up to the newest update and continue after it.
func (c *TelegramChannel) resync(ctx context.Context, bot *tgbotapi.BotAPI, offset int) int {
	c.logger.Warn().Dur("backoff", c.Config.ConflictBackoff).Msg("conflicting getUpdates consumer detected, waiting before resync")
	if !sleep(ctx, c.Config.ConflictBackoff) {
		return offset
	}

	latest, err := bot.GetUpdates(tgbotapi.NewUpdate(-1))
	if err != nil {
		c.logger.Warn().Err(err).Msg("resync failed")
		return offset
	}
	for _, update := range latest {
		if update.UpdateID >= offset {
			offset = update.UpdateID + 1
		}
	}
	c.logger.Info().Int("offset", offset).Msg("update queue resynchronised")
	return offset
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID = fmt.Sprintf("%s|%s", senderID, msg.From.UserName)
	}

	inbound := bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  senderID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Content:   msg.Text,
		Timestamp: msg.Time(),
	}
	if msg.IsCommand() {
		inbound.Command = msg.Command()
	}

	allowed, err := c.HandleMessage(ctx, inbound)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Int64("chat_id", msg.Chat.ID).Msg("dropping update")
	case !allowed:
		c.logger.Warn().Str("sender", senderID).Msg("sender not in allow list")
	}
}

func (c *TelegramChannel) client() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return nil, ErrNotStarted
	}
	return c.bot, nil
}

// SendText sends a message and returns its id. A non-nil keyboard replaces the
// reply keyboard; nil leaves the current one in place.
func (c *TelegramChannel) SendText(ctx context.Context, chatID int64, text string, keyboard [][]string) (int, error) {
	bot, err := c.client()
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	reply := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		reply.ReplyMarkup = replyKeyboard(keyboard)
	}
	sent, err := bot.Send(reply)
	if err != nil {
		return 0, fmt.Errorf("sendMessage: %w", err)
	}
	return sent.MessageID, nil
}

func (c *TelegramChannel) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("deleteMessage: %w", err)
	}
	return nil
}

// SendPhoto uploads the image bytes as a photo.
func (c *TelegramChannel) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, keyboard [][]string) error {
	bot, err := c.client()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	upload := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: photoFileName, Bytes: photo})
	upload.Caption = caption
	if keyboard != nil {
		upload.ReplyMarkup = replyKeyboard(keyboard)
	}
	if _, err := bot.Send(upload); err != nil {
		return fmt.Errorf("sendPhoto: %w", err)
	}
	return nil
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	buttons := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		line := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			line = append(line, tgbotapi.NewKeyboardButton(label))
		}
		buttons = append(buttons, tgbotapi.NewKeyboardButtonRow(line...))
	}
	markup := tgbotapi.NewReplyKeyboard(buttons...)
	markup.ResizeKeyboard = true
	return markup
}

// isConflict matches "409 Conflict: terminated by other getUpdates request".
func isConflict(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusConflict
	}
	return strings.Contains(err.Error(), "Conflict")
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
