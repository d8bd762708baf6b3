package sinks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ChainPulse/internal/domain/fault"
	"ChainPulse/internal/domain/repository"
	"ChainPulse/pkg/config"
	xhttp "ChainPulse/pkg/http"
	applogger "ChainPulse/pkg/logger"
)

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Telegram posts to a single chat via the Bot API.
type Telegram struct {
	client *xhttp.Client
	url    string
	chatID string
	maxLen int
	log    *applogger.Logger
}

func NewTelegram(cfg config.TelegramConfig, log *applogger.Logger) (*Telegram, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fault.Config("telegram", errors.New("bot_token and chat_id are required"))
	}
	if log == nil {
		log = applogger.Nop()
	}
	maxLen := cfg.MaxMessageLen
	if maxLen <= 0 {
		maxLen = 4096
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Telegram{
		client: xhttp.NewClient(xhttp.WithTimeout(timeout)),
		url:    fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(cfg.APIBase, "/"), cfg.BotToken),
		chatID: cfg.ChatID,
		maxLen: maxLen,
		log:    log.Component("telegram"),
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends subject and body, split into labelled parts when too long. Parts are
// sent in order and the first failure stops delivery.
func (t *Telegram) Notify(ctx context.Context, subject, body string) error {
	const op = "telegram send"
	text := body
	if subject != "" {
		text = subject + "\n\n" + body
	}
	parts := Split(text, t.maxLen)
	for i, part := range parts {
		var resp telegramResponse
		err := t.client.SendAndParse(ctx, &xhttp.RequestOptions{
			Method: xhttp.MethodPost,
			URL:    t.url,
			Body: map[string]interface{}{
				"chat_id":                  t.chatID,
				"text":                     part,
				"disable_web_page_preview": true,
			},
		}, &resp)
		if err != nil {
			return sinkErr(ctx, op, fmt.Errorf("part %d/%d: %w", i+1, len(parts), err))
		}
		if !resp.OK {
			return fault.Newf(fault.KindSink, op, "part %d/%d rejected: %s", i+1, len(parts), resp.Description)
		}
	}
	t.log.Info("message delivered", applogger.Int("parts", len(parts)), applogger.Int("chars", len(text)))
	return nil
}

var _ repository.Notifier = (*Telegram)(nil)
