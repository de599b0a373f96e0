package alert

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, p Payload) error {
	color := "#36a64f"
	switch p.Level {
	case Warning:
		color = "#ffcc00"
	case Critical:
		color = "#8b0000"
	}

	fields := make([]map[string]interface{}, 0, len(p.Fields))
	for _, k := range sortedKeys(p.Fields) {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": p.Fields[k],
			"short": true,
		})
	}
	body := map[string]interface{}{
		"attachments": []map[string]interface{}{{
			"color":   color,
			"pretext": fmt.Sprintf("[%s] %s", p.Level, p.Title),
			"text":    p.Message,
			"fields":  fields,
			"ts":      p.Timestamp.Unix(),
			"footer":  "risk_monitor",
		}},
	}
	return postJSON(ctx, s.client, s.webhookURL, body, "slack webhook")
}

type TelegramChannel struct {
	baseURL string
	chatID  string
	client  *http.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		baseURL: "https://api.telegram.org/bot" + botToken,
		chatID:  chatID,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(ctx context.Context, p Payload) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s] %s*\n\n%s", p.Level, p.Title, p.Message)
	if len(p.Fields) > 0 {
		b.WriteString("\n")
		for _, k := range sortedKeys(p.Fields) {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, p.Fields[k])
		}
	}
	body := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       b.String(),
		"parse_mode": "Markdown",
	}
	return postJSON(ctx, t.client, t.baseURL+"/sendMessage", body, "telegram api")
}

func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, what string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status: %d", what, resp.StatusCode)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
