// Package webhook delivers run notifications to the endpoints configured in
// piplan.yml.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"piplan/internal/config"
)

const defaultTimeout = 5 * time.Second

const (
	EventPlanCompleted = "plan.completed"
	EventPlanCanceled  = "plan.canceled"
)

// Event is the JSON body posted to every matching webhook.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id"`
	RunID     string          `json:"run_id"`
	TS        string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

type Dispatcher struct {
	project  string
	webhooks []config.WebhookConfig
	client   *http.Client
	log      *slog.Logger
}

// NewDispatcher returns nil when cfg has no webhooks; a nil Dispatcher
// ignores Notify.
func NewDispatcher(cfg *config.Config, log *slog.Logger) *Dispatcher {
	if cfg == nil || len(cfg.Webhooks) == 0 {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		project:  cfg.Project.ID,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      log,
	}
}

// Notify posts evt to each enabled webhook whose filter matches. Delivery
// failures are logged and counted, never returned.
func (d *Dispatcher) Notify(ctx context.Context, evtType, runID string, payload any) (delivered, failed int) {
	if d == nil {
		return 0, 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("webhook: marshal payload", "error", err)
		return 0, 0
	}
	evt := Event{
		Type:      evtType,
		ProjectID: d.project,
		RunID:     runID,
		TS:        time.Now().UTC().Format(time.RFC3339),
		Payload:   data,
	}
	for _, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" || !newEventFilter(hook.Events).match(evtType) {
			continue
		}
		evt.ID = uuid.NewString()
		if err := d.post(ctx, hook, evt); err != nil {
			d.log.Warn("webhook: delivery failed", "url", hook.URL, "event", evtType, "error", err)
			failed++
			continue
		}
		delivered++
	}
	return delivered, failed
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Piplan-Event", evt.Type)
	req.Header.Set("X-Piplan-Delivery", evt.ID)
	req.Header.Set("X-Piplan-Project", evt.ProjectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Piplan-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	// "plan.*" matches every plan event
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
