package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"optibatch/internal/config"
)

const userAgent = "optibatch/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventRunStarted    Event = "run_started"
	EventRunCompleted  Event = "run_completed"
	EventRunStopped    Event = "run_stopped"
	EventQuotaBlocked  Event = "quota_blocked"
	EventBulkCompleted Event = "bulk_completed"
	EventError         Event = "error"
	EventTest          Event = "test"
)

// Payload carries event-specific values. Keys are documented per event in
// the formatter below.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventRunCompleted:  cfg.Notifications.RunCompleted,
			EventRunStopped:    cfg.Notifications.RunCompleted,
			EventQuotaBlocked:  cfg.Notifications.QuotaBlocked,
			EventBulkCompleted: cfg.Notifications.BulkCompleted,
			EventError:         cfg.Notifications.Errors,
			EventTest:          true,
		},
	}
}

// NewNoop returns a service that drops every event.
func NewNoop() Service {
	return noopService{}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	switch event {
	case EventRunCompleted:
		success, skipped, failed := intValue(data, "success"), intValue(data, "skipped"), intValue(data, "failed")
		message := fmt.Sprintf("✅ Optimized %d images (%d skipped, %d failed)", success, skipped, failed)
		if saved := int64Value(data, "savedBytes"); saved > 0 {
			message += fmt.Sprintf("\nSaved %s", humanize.Bytes(uint64(saved)))
			if avg := intValue(data, "averageSavings"); avg > 0 {
				message += fmt.Sprintf(" (~%d%% smaller)", avg)
			}
		}
		title := "Optibatch - Run Complete"
		if failed > 0 {
			title = "Optibatch - Run Complete (with errors)"
		}
		return payload{title: title, message: message, tags: []string{"optibatch", "run", "completed"}}, true
	case EventRunStopped:
		return payload{
			title:   "Optibatch - Run Stopped",
			message: fmt.Sprintf("⏹️ Run stopped after %d of %d items", intValue(data, "processed"), intValue(data, "total")),
			tags:    []string{"optibatch", "run", "stopped"},
		}, true
	case EventQuotaBlocked:
		message := fmt.Sprintf("⚠️ Quota reached after %d of %d items; the run can be resumed", intValue(data, "processed"), intValue(data, "total"))
		if upgrade := stringValue(data, "upgradeURL"); upgrade != "" {
			message += "\nUpgrade: " + upgrade
		}
		return payload{
			title:    "Optibatch - Quota Reached",
			message:  message,
			tags:     []string{"optibatch", "quota", "warning"},
			priority: "high",
		}, true
	case EventBulkCompleted:
		workflow := stringValue(data, "workflow")
		if workflow == "" {
			workflow = "bulk"
		}
		return payload{
			title:   "Optibatch - " + strings.ToUpper(workflow[:1]) + workflow[1:] + " Complete",
			message: fmt.Sprintf("🔁 %s complete: %d succeeded, %d failed", workflow, intValue(data, "succeeded"), intValue(data, "failed")),
			tags:    []string{"optibatch", workflow, "completed"},
		}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(data, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if msg := stringValue(data, "error"); msg != "" {
			builder.WriteString(msg)
		} else {
			builder.WriteString("unknown")
		}
		return payload{
			title:    "Optibatch - Error",
			message:  builder.String(),
			tags:     []string{"optibatch", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "Optibatch - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"optibatch", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n.client == nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func stringValue(data Payload, key string) string {
	switch v := data[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func int64Value(data Payload, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

func intValue(data Payload, key string) int {
	return int(int64Value(data, key))
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
