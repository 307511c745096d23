// Package dialog runs the two-step conversation: pick a provider, then send a
// prompt and get a picture back.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/HKUDS/imagebot-go/pkg/bus"
	"github.com/HKUDS/imagebot-go/pkg/delivery"
	"github.com/HKUDS/imagebot-go/pkg/imagegen"
	"github.com/HKUDS/imagebot-go/pkg/session"
	"github.com/HKUDS/imagebot-go/pkg/utils"
)

const (
	CommandStart  = "start"
	CommandCancel = "cancel"
)

// Messenger is the outbound side of the chat transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, keyboard [][]string) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, keyboard [][]string) error
}

// Generator turns a raw prompt into an image.
type Generator interface {
	Orchestrate(ctx context.Context, rawPrompt string, preferred imagegen.Provider) (*imagegen.Result, error)
}

// Deliverer retries a send.
type Deliverer interface {
	Deliver(ctx context.Context, send delivery.SendFunc) (delivery.Report, error)
}

// ProviderKeyboard is the reply keyboard with one button per provider.
func ProviderKeyboard() [][]string {
	rows := make([][]string, 0, len(imagegen.Providers))
	for _, p := range imagegen.Providers {
		rows = append(rows, []string{p.Label()})
	}
	return rows
}

// Controller consumes inbound messages and drives each conversation.
type Controller struct {
	bus       *bus.MessageBus
	sessions  *session.Manager
	generator Generator
	deliverer Deliverer
	messenger Messenger
	logger    zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	pending map[string][]bus.InboundMessage // queued messages of conversations with a running worker
}

// NewController wires the dialog. A nil logger means no logging.
func NewController(
	messageBus *bus.MessageBus,
	sessions *session.Manager,
	generator Generator,
	deliverer Deliverer,
	messenger Messenger,
	logger *zerolog.Logger,
) *Controller {
	c := &Controller{
		bus:       messageBus,
		sessions:  sessions,
		generator: generator,
		deliverer: deliverer,
		messenger: messenger,
		logger:    zerolog.Nop(),
		pending:   make(map[string][]bus.InboundMessage),
	}
	if logger != nil {
		c.logger = logger.With().Str("component", "dialog").Logger()
	}
	return c
}

// Run handles inbound messages until ctx is done or the bus stops. Each
// conversation gets one worker goroutine that handles its messages in arrival
// order; different conversations run concurrently. Run waits for in-flight
// messages before returning.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info().Msg("dialog controller started")
	defer func() {
		c.wg.Wait()
		c.logger.Info().Msg("dialog controller stopped")
	}()

	inbound := c.bus.ConsumeInbound()
	for {
		select {
		case msg := <-inbound:
			c.dispatch(ctx, msg)
		case <-c.bus.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatch appends msg to its conversation queue, starting a worker when the
// conversation has none.
func (c *Controller) dispatch(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	c.mu.Lock()
	if queue, running := c.pending[key]; running {
		c.pending[key] = append(queue, msg)
		c.mu.Unlock()
		return
	}
	c.pending[key] = nil
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(ctx, key, msg)
	}()
}

func (c *Controller) drain(ctx context.Context, key string, msg bus.InboundMessage) {
	for {
		c.Handle(ctx, msg)

		c.mu.Lock()
		queue := c.pending[key]
		if len(queue) == 0 || ctx.Err() != nil {
			delete(c.pending, key)
			c.mu.Unlock()
			return
		}
		msg = queue[0]
		c.pending[key] = queue[1:]
		c.mu.Unlock()
	}
}

// Handle processes one message synchronously.
func (c *Controller) Handle(ctx context.Context, msg bus.InboundMessage) {
	log := c.logger.With().
		Str("session", msg.SessionKey()).
		Str("sender", msg.SenderID).
		Int("message_id", msg.MessageID).
		Logger()

	sess := c.sessions.Acquire(msg.SessionKey())
	defer sess.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("panic while handling message")
			sess.Transition(session.StateChooseProvider)
			c.reply(ctx, log, msg.ChatID, TextUnexpected, nil)
		}
	}()

	switch {
	case msg.IsCommand(CommandStart):
		sess.Transition(session.StateChooseProvider)
		c.reply(ctx, log, msg.ChatID, TextGreeting, ProviderKeyboard())
	case msg.IsCommand(CommandCancel):
		sess.Transition(session.StateChooseProvider)
		c.reply(ctx, log, msg.ChatID, TextCancelled, ProviderKeyboard())
	case msg.Command != "":
		log.Debug().Str("command", msg.Command).Msg("ignoring unknown command")
	case sess.State == session.StatePromptInput:
		c.handlePrompt(ctx, log, sess, msg)
	default:
		c.handleChoice(ctx, log, sess, msg)
	}
}

func (c *Controller) handleChoice(ctx context.Context, log zerolog.Logger, sess *session.Session, msg bus.InboundMessage) {
	provider, err := imagegen.ParseProvider(msg.Content)
	if err != nil {
		c.reply(ctx, log, msg.ChatID, TextChooseProvider, ProviderKeyboard())
		return
	}
	sess.Choose(provider)
	log.Info().Str("provider", string(provider)).Msg("provider selected")
	c.reply(ctx, log, msg.ChatID, fmt.Sprintf(TextChosen, provider.Label()), nil)
}

func (c *Controller) handlePrompt(ctx context.Context, log zerolog.Logger, sess *session.Session, msg bus.InboundMessage) {
	prompt := strings.TrimSpace(msg.Content)
	if prompt == "" {
		c.reply(ctx, log, msg.ChatID, TextEmptyPrompt, nil)
		return
	}

	// A provider label typed while waiting for a prompt switches the provider.
	if p, err := imagegen.ParseProvider(prompt); err == nil {
		sess.Choose(p)
		c.reply(ctx, log, msg.ChatID, fmt.Sprintf(TextChosen, p.Label()), nil)
		return
	}

	statusID, statusErr := c.messenger.SendText(ctx, msg.ChatID, TextGenerating, nil)
	if statusErr != nil {
		log.Warn().Err(statusErr).Msg("failed to send status message")
	}

	result, err := c.generator.Orchestrate(ctx, msg.Content, sess.Provider)
	if statusErr == nil {
		if delErr := c.messenger.DeleteMessage(ctx, msg.ChatID, statusID); delErr != nil {
			log.Warn().Err(delErr).Int("status_message_id", statusID).Msg("failed to delete status message")
		}
	}
	sess.Transition(session.StateChooseProvider)

	if err != nil {
		if errors.Is(err, imagegen.ErrEmptyPrompt) {
			sess.Transition(session.StatePromptInput)
			c.reply(ctx, log, msg.ChatID, TextEmptyPrompt, nil)
			return
		}
		log.Error().Err(err).Msg("generation rejected")
		c.reply(ctx, log, msg.ChatID, TextGenerationFail, ProviderKeyboard())
		return
	}

	log = log.With().Str("request_id", result.Request.ID).Str("provider", string(result.Provider)).Logger()
	if !result.Outcome.Succeeded() {
		log.Error().Err(result.Outcome.Err()).
			Str("reason", string(result.Outcome.Reason())).
			Int("attempts", result.Attempts).
			Msg("generation failed")
		c.reply(ctx, log, msg.ChatID, TextGenerationFail, ProviderKeyboard())
		return
	}

	caption := utils.Truncate(fmt.Sprintf(CaptionFormat, strings.TrimSpace(result.Request.RawPrompt), strings.TrimSpace(result.Request.TranslatedPrompt)), maxCaptionLength)
	image := result.Outcome.Image()
	report, err := c.deliverer.Deliver(ctx, func(ctx context.Context) error {
		return c.messenger.SendPhoto(ctx, msg.ChatID, image, caption, ProviderKeyboard())
	})
	if err != nil {
		log.Error().Err(err).Int("attempts", report.Attempts).Msg("image delivery failed")
		if delivery.IsExhausted(err) {
			c.reply(ctx, log, msg.ChatID, TextDeliveryFailed, ProviderKeyboard())
		} else {
			c.reply(ctx, log, msg.ChatID, TextDeliveryError, ProviderKeyboard())
		}
		return
	}
	log.Info().Int("attempts", report.Attempts).Int("bytes", len(image)).Msg("image delivered")
}

func (c *Controller) reply(ctx context.Context, log zerolog.Logger, chatID int64, text string, keyboard [][]string) {
	if _, err := c.messenger.SendText(ctx, chatID, text, keyboard); err != nil {
		log.Error().Err(err).Str("text", utils.Truncate(text, 64)).Msg("failed to send reply")
	}
}
