// Package telegram delivers alerts to one Telegram chat through a bot.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"quakenotify/pkg/channel"
	"quakenotify/pkg/config"
	"quakenotify/pkg/failure"
)

const (
	channelName = "telegram"
	// Telegram's limits in characters.
	captionLimit = 1024
	messageLimit = 4096
)

// Channel sends messages and photos to one chat. It is its own single target.
type Channel struct {
	bot    *telego.Bot
	chatID int64
	policy channel.Policy
	gate   channel.Gate
	log    *slog.Logger
}

// New validates Telegram configuration and constructs the bot client.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Channel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, failure.Configurationf("channels.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, failure.Configurationf("channels.telegram.chat_id is required")
	}

	policy, err := channel.PolicyFromConfig(channelName, cfg.DeliveryConfig)
	if err != nil {
		return nil, err
	}
	gate, err := channel.NewGate(cfg.MinIntensity, cfg.MinShindo)
	if err != nil {
		return nil, err
	}

	options := []telego.BotOption{}
	if apiServer := strings.TrimSpace(cfg.APIServer); apiServer != "" {
		options = append(options, telego.WithAPIServer(apiServer))
	}

	bot, err := telego.NewBot(token, options...)
	if err != nil {
		return nil, failure.Configurationf("initialize telegram bot: %v", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Channel{
		bot:    bot,
		chatID: cfg.ChatID,
		policy: policy,
		gate:   gate,
		log:    log.With("component", "channel.telegram"),
	}, nil
}

func (c *Channel) Name() string { return channelName }

func (c *Channel) Capabilities() channel.Capabilities { return channel.Capabilities{} }

func (c *Channel) Policy() channel.Policy { return c.policy }

func (c *Channel) Targets() []channel.Target { return []channel.Target{c} }

func (c *Channel) ID() string { return "default" }

func (c *Channel) Gate() channel.Gate { return c.gate }

func (c *Channel) SendText(ctx context.Context, msg channel.Message) (channel.Outcome, error) {
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(c.chatID), truncate(msg.Text, messageLimit)))
	return c.outcome("sendMessage", sent, err)
}

func (c *Channel) SendTextWithImage(ctx context.Context, path string, msg channel.Message) (channel.Outcome, error) {
	file, err := os.Open(path)
	if err != nil {
		return channel.Outcome{}, failure.NormalizeIOError(err, "open image")
	}
	defer file.Close()

	params := tu.Photo(tu.ID(c.chatID), tu.File(file)).WithCaption(truncate(msg.Text, captionLimit))
	sent, err := c.bot.SendPhoto(ctx, params)
	return c.outcome("sendPhoto", sent, err)
}

func (c *Channel) outcome(method string, sent *telego.Message, err error) (channel.Outcome, error) {
	if err != nil {
		c.log.Warn("Post failed", "method", method, "chat_id", c.chatID, "error", err)
		return channel.Outcome{}, failure.Transientf("telegram %s: %v", method, err)
	}

	body := ""
	if sent != nil {
		body = fmt.Sprintf(`{"message_id":%d}`, sent.MessageID)
	}
	c.log.Info("Post response", "method", method, "chat_id", c.chatID, "body", body)

	return channel.Outcome{Success: true, Body: body}, nil
}

// truncate keeps text within limit characters without splitting one.
func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit-3]) + "..."
}
