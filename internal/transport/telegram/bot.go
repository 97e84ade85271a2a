package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"nftwatch/internal/transport"
)

// MaxMessageLength is Telegram's limit for a text message.
const MaxMessageLength = 4096

// Config configures the Telegram bot.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Bot sends alerts and serves chat commands over the Telegram Bot API.
type Bot struct {
	bot    *tele.Bot
	logger *zap.Logger
}

var _ transport.Sender = (*Bot)(nil)

func New(cfg Config, logger *zap.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			logger.Warn("telegram handler error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Bot{bot: b, logger: logger}, nil
}

// Send delivers text to the user's private chat. The scheduler keeps batch
// texts within MaxMessageLength; longer text is split and a failure part way
// through is reported as a failure of the whole text.
func (b *Bot) Send(ctx context.Context, userID int64, text string) error {
	for _, chunk := range transport.SplitText(text, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := b.bot.Send(tele.ChatID(userID), chunk, &tele.SendOptions{DisableWebPagePreview: true})
		if err != nil {
			var flood tele.FloodError
			if errors.As(err, &flood) {
				return fmt.Errorf("telegram flood limit, retry after %ds: %w", flood.RetryAfter, err)
			}
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

var commandNames = []string{"start", "help", "add", "remove", "list", "settings", "alerts", "cadence"}

// Serve registers the command handlers and polls for updates until ctx is done.
func (b *Bot) Serve(ctx context.Context, commands *Commands) {
	for _, name := range commandNames {
		name := name
		b.bot.Handle("/"+name, func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			reply := commands.Handle(ctx, sender.ID, name, c.Args())
			b.logger.Debug("command handled", zap.String("command", name), zap.Int64("user_id", sender.ID))
			return b.Send(ctx, sender.ID, reply)
		})
	}

	go func() {
		<-ctx.Done()
		b.bot.Stop()
	}()
	b.logger.Info("telegram polling started")
	b.bot.Start()
	b.logger.Info("telegram polling stopped")
}
