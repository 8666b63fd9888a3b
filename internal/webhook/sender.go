package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/orrn/slicer/internal/core"
	"github.com/orrn/slicer/internal/db"
)

const EventTest = "webhook_test"

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        string        `json:"job_id"`
	ModelID      string        `json:"model_id"`
	Status       core.JobState `json:"status"`
	Progress     float64       `json:"progress"`
	Message      string        `json:"message,omitempty"`
	ArtifactSize int64         `json:"artifact_size,omitempty"`
	Duration     int64         `json:"duration_ms,omitempty"`
}

func jobEventData(j core.Job) *JobEventData {
	data := &JobEventData{
		JobID:        j.ID,
		ModelID:      j.ModelID,
		Status:       j.State,
		Progress:     j.Progress,
		Message:      j.Message,
		ArtifactSize: j.ArtifactSize,
	}
	if j.StartedAt != nil && j.FinishedAt != nil {
		data.Duration = j.FinishedAt.Sub(*j.StartedAt).Milliseconds()
	}
	return data
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

// HTTPError is a non-2xx answer from a webhook endpoint.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: %d", e.StatusCode)
}

type webhookTask struct {
	webhook *db.Webhook
	payload *WebhookPayload
	attempt int
}

// WebhookSender delivers job events to the webhooks subscribed to them.
// SendJobEvent never blocks; events are dropped when the queue is full.
type WebhookSender struct {
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	logger      *slog.Logger
	events      chan core.JobEvent
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

func NewWebhookSender(config WebhookConfig, logger *slog.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookSender{
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		retryCount:  config.RetryCount,
		retryDelay:  config.RetryDelay,
		workerCount: config.WorkerCount,
		logger:      logger.With("component", "webhook"),
		events:      make(chan core.JobEvent, config.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

// SendJobEvent implements core.EventSink.
func (s *WebhookSender) SendJobEvent(event core.JobEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("queue full, dropping event", "event", event.Event, "job_id", event.Job.ID)
	}
}

// SendTest delivers a single test payload to w, without retries.
func (s *WebhookSender) SendTest(ctx context.Context, w *db.Webhook) error {
	return s.sendRequest(ctx, w, &WebhookPayload{
		Event:     EventTest,
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "test webhook from slicerd"},
	})
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()
	logger := s.logger.With("worker", id)

	for {
		select {
		case <-s.stopCh:
			return
		case event := <-s.events:
			s.deliver(logger, event)
		}
	}
}

func (s *WebhookSender) deliver(logger *slog.Logger, event core.JobEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	webhooks, err := db.Webhooks.ListActiveWebhooksForEvent(ctx, event.Event)
	cancel()
	if err != nil {
		logger.Error("failed to get webhooks for event", "event", event.Event, "error", err)
		return
	}

	data := jobEventData(event.Job)
	for _, w := range webhooks {
		task := &webhookTask{
			webhook: w,
			payload: &WebhookPayload{
				Event:     event.Event,
				Timestamp: event.Timestamp,
				Data:      data,
			},
		}
		if err := s.sendWithRetry(task); err != nil {
			logger.Warn("webhook delivery failed",
				"webhook_id", w.ID, "event", event.Event, "attempts", task.attempt, "error", err)
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-s.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := s.sendRequest(ctx, task.webhook, task.payload)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Debug("retrying webhook",
				"webhook_id", task.webhook.ID, "attempt", task.attempt, "backoff", backoff, "error", err)

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(ctx context.Context, w *db.Webhook, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	payload.Signature = ""
	if w.Secret != "" {
		payload.Signature = SignPayload(dataBytes, w.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret, as sent
// in the X-Webhook-Signature header.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
