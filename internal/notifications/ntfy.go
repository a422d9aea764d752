package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// NtfySink publishes events to an ntfy server topic.
type NtfySink struct {
	client  *http.Client
	baseURL string
	topic   string
}

func NewNtfySink(baseURL, topic string) *NtfySink {
	return &NtfySink{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		topic:   topic,
	}
}

func (s *NtfySink) Name() string {
	return "ntfy"
}

var ntfyTags = map[Kind][]string{
	KindWateringStarted: {"droplet"},
	KindWateringStopped: {"white_check_mark"},
	KindScheduled:       {"alarm_clock"},
	KindAutomatic:       {"seedling"},
	KindScheduleChanged: {"calendar"},
	KindWarning:         {"warning"},
	KindError:           {"rotating_light"},
	KindSystem:          {"gear"},
}

func ntfyPriority(k Kind) int {
	switch k {
	case KindError:
		return 5
	case KindWarning:
		return 4
	default:
		return 3
	}
}

// Send posts e using ntfy's JSON publishing API.
func (s *NtfySink) Send(ctx context.Context, e Event) error {
	payload := map[string]interface{}{
		"topic":    s.topic,
		"title":    e.Title,
		"message":  e.Message,
		"tags":     ntfyTags[e.Kind],
		"priority": ntfyPriority(e.Kind),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().
		Str("title", e.Title).
		Int("status", resp.StatusCode).
		Msg("Notification sent successfully")

	return nil
}
