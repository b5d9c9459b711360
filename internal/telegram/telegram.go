package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bytovka/internal/feed"
	"bytovka/internal/models"
)

const defaultAPIURL = "https://api.telegram.org"

// Source hands out change feed subscriptions
type Source interface {
	Subscribe(ctx context.Context, buffer int) *feed.Subscription
}

// Notifier announces newly created listings to a Telegram chat
type Notifier struct {
	logger  *logrus.Logger
	client  *http.Client
	config  models.TelegramConfig
	filters *models.TelegramFilters
}

func NewNotifier(config models.TelegramConfig, filters *models.TelegramFilters, logger *logrus.Logger) *Notifier {
	if config.APIURL == "" {
		config.APIURL = defaultAPIURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
		config:  config,
		filters: filters,
	}
}

// Run forwards created events from the feed until ctx is done
func (n *Notifier) Run(ctx context.Context, source Source, buffer int) {
	sub := source.Subscribe(ctx, buffer)
	defer sub.Close()

	n.logger.WithField("chat_id", n.config.ChatID).Info("Telegram notifier started")
	for evt := range sub.Events() {
		if evt.Type != feed.EventCreated || evt.Offer == nil {
			continue
		}
		if !n.filters.IsOfferAllowed(evt.Offer) {
			continue
		}
		if err := n.SendMessage(ctx, FormatOffer(evt.Offer)); err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.WithError(err).WithFields(logrus.Fields{
				"scraper": evt.Scraper,
				"id":      evt.RemoteID,
			}).Error("Failed to send Telegram notification")
		}
	}
}

// SendMessage sends an HTML message to the configured chat
func (n *Notifier) SendMessage(ctx context.Context, message string) error {
	if n.config.BotToken == "" {
		return errors.New("telegram bot token is not configured")
	}
	if n.config.ChatID == "" {
		return errors.New("telegram chat ID is not configured")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.config.APIURL, "/"), n.config.BotToken)
	payload := map[string]interface{}{
		"chat_id":    n.config.ChatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message to Telegram API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusNotFound:
			return errors.New("invalid bot token")
		case http.StatusBadRequest:
			return fmt.Errorf("invalid chat ID or message format: %s", string(body))
		case http.StatusForbidden:
			return errors.New("bot was blocked by the user or chat")
		default:
			return fmt.Errorf("telegram API error (status %d): %s", resp.StatusCode, string(body))
		}
	}

	return nil
}

// FormatOffer renders a listing as a Telegram HTML message
func FormatOffer(o *models.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(o.Title))
	fmt.Fprintf(&b, "💰 %d Kč\n", o.Price)
	if o.Disposition != nil {
		fmt.Fprintf(&b, "🚪 %s\n", html.EscapeString(*o.Disposition))
	}
	if o.Area != nil {
		fmt.Fprintf(&b, "📐 %d m²\n", *o.Area)
	}
	if o.Address != nil {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(*o.Address))
	} else if o.CityPart != nil {
		fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(*o.CityPart))
	}
	fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">%s</a>", html.EscapeString(o.Link), html.EscapeString(o.Scraper))
	return b.String()
}
