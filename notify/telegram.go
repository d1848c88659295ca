package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmdatafocus/restore_backend/restore"
	"github.com/mmdatafocus/restore_backend/utils"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

const telegramTemplate = `
<b>🔔 LOCKET SYSTEM</b>

👤 <b>Username:</b> <code>{{.username}}</code>
🆔 <b>UID:</b> <code>{{.uid}}</code>
🌐 <b>IP:</b> <code>{{.ip}}</code>

📌 <b>Status:</b> {{.icon}} <b>{{.status}}</b>
🆔 <b>Client ID:</b>
<code>{{.client_id}}</code>

⏰ <b>Time:</b> {{.time}}
{{- if .note}}

📝 <b>Note:</b>
<pre>{{.note}}</pre>
{{- end}}
`

var statusIcons = map[restore.EventKind]string{
	restore.EventProcessing: "⚙️",
	restore.EventSuccess:    "✅",
	restore.EventError:      "❌",
}

// TelegramSink posts an HTML message per event to one chat.
type TelegramSink struct {
	BaseURL  string
	BotToken string
	ChatId   string
	HTTP     *http.Client
}

func NewTelegramSink(botToken, chatId string) *TelegramSink {
	return &TelegramSink{
		BaseURL:  defaultTelegramBaseURL,
		BotToken: botToken,
		ChatId:   chatId,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *TelegramSink) Name() string { return "telegram" }

// Enabled reports whether both the bot token and the chat id are set.
func (s *TelegramSink) Enabled() bool {
	return strings.TrimSpace(s.BotToken) != "" && strings.TrimSpace(s.ChatId) != ""
}

func (s *TelegramSink) Emit(ctx context.Context, ev restore.Event) error {
	if !s.Enabled() {
		return nil
	}
	text, err := FormatTelegramMessage(ev)
	if err != nil {
		return err
	}
	b, err := json.Marshal(map[string]string{
		"chat_id":    s.ChatId,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(s.BaseURL, "/"), s.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// FormatTelegramMessage renders ev in Telegram's HTML parse mode. Every value
// coming from a user or upstream is escaped.
func FormatTelegramMessage(ev restore.Event) (string, error) {
	icon, ok := statusIcons[ev.Kind]
	if !ok {
		icon = "ℹ️"
	}
	return utils.ExecTemplate(telegramTemplate, map[string]interface{}{
		"username":  html.EscapeString(ev.Username),
		"uid":       html.EscapeString(utils.DefaultIfEmpty(ev.Uid, "N/A")),
		"ip":        html.EscapeString(utils.DefaultIfEmpty(ev.IP, "N/A")),
		"icon":      icon,
		"status":    strings.ToUpper(string(ev.Kind)),
		"client_id": html.EscapeString(ev.ClientId),
		"time":      ev.OccurredAt.Format("2006-01-02 15:04:05"),
		"note":      html.EscapeString(ev.Note),
	})
}
