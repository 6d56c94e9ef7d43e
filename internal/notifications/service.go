package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"imgforge/internal/config"
)

const userAgent = "imgforge/0.1.0"

// BuildSummary describes a finished build for a completion notice.
type BuildSummary struct {
	RunID     string
	Manifest  string
	Image     string
	ImageSize int64
	Sides     int
	Duration  time.Duration
}

// Service is the notification surface used by the pipeline.
type Service interface {
	NotifyBuildCompleted(ctx context.Context, summary BuildSummary) error
	NotifyBuildFailed(ctx context.Context, manifest string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notify.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
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
}

func (n *ntfyService) NotifyBuildCompleted(ctx context.Context, summary BuildSummary) error {
	duration := summary.Duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	message := fmt.Sprintf("Image built: %s (%s", filepath.Base(summary.Image), humanize.IBytes(uint64(summary.ImageSize)))
	if summary.Sides > 1 {
		message += fmt.Sprintf(", %d sides", summary.Sides)
	}
	message += fmt.Sprintf(") in %s", duration)
	if manifest := strings.TrimSpace(summary.Manifest); manifest != "" {
		message += "\nManifest: " + manifest
	}
	data := payload{
		title:   "imgforge - Build Complete",
		message: message,
		tags:    []string{"imgforge", "build", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBuildFailed(ctx context.Context, manifest string, err error) error {
	var builder strings.Builder
	builder.WriteString("Build failed")
	if manifest = strings.TrimSpace(manifest); manifest != "" {
		builder.WriteString(" for ")
		builder.WriteString(manifest)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "imgforge - Build Failed",
		message:  builder.String(),
		tags:     []string{"imgforge", "build", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "imgforge - Test",
		message:  "Notification system test",
		tags:     []string{"imgforge", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
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

type noopService struct{}

func (noopService) NotifyBuildCompleted(context.Context, BuildSummary) error { return nil }
func (noopService) NotifyBuildFailed(context.Context, string, error) error   { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
