package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agnosto/toot-scraper/config"
	"github.com/agnosto/toot-scraper/logger"
	"github.com/dustin/go-humanize"
	"github.com/gen2brain/beeep"
)

const (
	telegramAPI = "https://api.telegram.org"

	colorGreen  = 3066993
	colorYellow = 16776960
)

// RunReport is what a finished run tells the user about.
type RunReport struct {
	Accounts    int
	Stored      int
	Failed      int
	RateLimited []string
	Duration    time.Duration
}

type NotificationService struct {
	config      *config.Config
	httpClient  *http.Client
	telegramAPI string
	notify      func(title, message, icon string) error
}

func NewNotificationService(cfg *config.Config) *NotificationService {
	return &NotificationService{
		config:      cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		telegramAPI: telegramAPI,
		notify: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
}

// NotifyRunComplete reports how many toots a run stored.
func (ns *NotificationService) NotifyRunComplete(ctx context.Context, report RunReport) {
	if !ns.config.Notifications.Enabled {
		return
	}

	message := fmt.Sprintf("Stored %s new toots from %s accounts in %s.",
		humanize.Comma(int64(report.Stored)),
		humanize.Comma(int64(report.Accounts)),
		report.Duration.Round(time.Second))
	if report.Failed > 0 {
		message += fmt.Sprintf(" %d accounts failed, see the log.", report.Failed)
	}

	ns.send(ctx, "Toot download finished", message, colorGreen)
}

// NotifyRateLimited reports the accounts a run had to stop early on.
func (ns *NotificationService) NotifyRateLimited(ctx context.Context, accts []string) {
	if !ns.config.Notifications.Enabled || !ns.config.Notifications.NotifyOnRateLimit || len(accts) == 0 {
		return
	}

	message := fmt.Sprintf("Rate limited on %d accounts (%s). This is normal, run again later to continue.",
		len(accts), strings.Join(accts, ", "))

	ns.send(ctx, "Toot download rate limited", message, colorYellow)
}

func (ns *NotificationService) send(ctx context.Context, title, message string, color int) {
	if ns.config.Notifications.SystemNotify {
		ns.sendSystemNotification(message, title)
	}

	if ns.config.Notifications.DiscordWebhook != "" {
		if err := ns.sendDiscordNotification(ctx, title, message, color); err != nil {
			logger.Logger.Warnf("Failed to send Discord notification: %v", err)
		}
	}

	if ns.config.Notifications.TelegramBotToken != "" && ns.config.Notifications.TelegramChatID != "" {
		if err := ns.sendTelegramNotification(ctx, title, message); err != nil {
			logger.Logger.Warnf("Failed to send Telegram notification: %v", err)
		}
	}
}

func (ns *NotificationService) sendSystemNotification(message, title string) {
	if err := ns.notify(title, message, ""); err != nil {
		logger.Logger.Warnf("Failed to send system notification: %v", err)
	}
}

func (ns *NotificationService) sendDiscordNotification(ctx context.Context, title, message string, color int) error {
	type DiscordEmbed struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Color       int    `json:"color"`
		Timestamp   string `json:"timestamp"`
		Footer      struct {
			Text string `json:"text"`
		} `json:"footer"`
	}

	type DiscordWebhookPayload struct {
		Embeds []DiscordEmbed `json:"embeds"`
	}

	embed := DiscordEmbed{
		Title:       title,
		Description: message,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	embed.Footer.Text = ns.config.Account.Site

	return ns.postJSON(ctx, ns.config.Notifications.DiscordWebhook, DiscordWebhookPayload{Embeds: []DiscordEmbed{embed}})
}

func (ns *NotificationService) sendTelegramNotification(ctx context.Context, title, message string) error {
	type TelegramPayload struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", ns.telegramAPI, ns.config.Notifications.TelegramBotToken)
	return ns.postJSON(ctx, url, TelegramPayload{
		ChatID: ns.config.Notifications.TelegramChatID,
		Text:   title + "\n" + message,
	})
}

func (ns *NotificationService) postJSON(ctx context.Context, url string, payload interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonPayload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ns.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("returned status %d", resp.StatusCode)
	}
	return nil
}
