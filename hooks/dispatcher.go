// Package hooks fires configured outbound webhooks on activity lifecycle
// events.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/deemkeen/fedinbox/domain"
	"github.com/deemkeen/fedinbox/logger"
	"github.com/deemkeen/fedinbox/telemetry"
)

// DefaultTimeout bounds every webhook call.
const DefaultTimeout = 3 * time.Second

// Source looks up the hook configured for an actor and event. A nil hook
// with nil error means none is configured.
type Source interface {
	Hook(actorKey, event string) (*domain.Hook, error)
}

// Dispatcher delivers lifecycle events to configured webhooks.
type Dispatcher struct {
	src     Source
	client  *http.Client
	timeout time.Duration
}

// NewDispatcher builds a dispatcher over the given hook source. A nil client
// uses http.DefaultClient.
func NewDispatcher(src Source, client *http.Client) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Dispatcher{src: src, client: client, timeout: DefaultTimeout}
}

// Dispatch fires the hook configured for (actor, event) with the
// JSON-serialized activity as body (omitted for GET hooks). Returns true
// when a hook existed and the endpoint answered 2xx. A missing hook is a
// no-op, not an error; a timeout or non-2xx response is reported as an error
// with fired=false, and callers are expected to log and continue.
func (d *Dispatcher) Dispatch(ctx context.Context, event, actorKey string, activity *domain.Activity) (bool, error) {
	hook, err := d.src.Hook(actorKey, event)
	if err != nil {
		return false, err
	}
	if hook == nil {
		return false, nil
	}

	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}

	var body *bytes.Reader
	if method == http.MethodGet {
		body = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(activity)
		if err != nil {
			return false, fmt.Errorf("failed to marshal activity: %w", err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, hook.URL, body)
	if err != nil {
		return false, fmt.Errorf("failed to create hook request: %w", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		telemetry.HooksFired.WithLabelValues(event, "error").Inc()
		return false, fmt.Errorf("hook call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		telemetry.HooksFired.WithLabelValues(event, "error").Inc()
		return false, fmt.Errorf("hook returned status %d", resp.StatusCode)
	}

	telemetry.HooksFired.WithLabelValues(event, "ok").Inc()
	logger.Debug("hook_fired",
		zap.String("event", event),
		zap.String("actor", actorKey),
		zap.String("url", hook.URL))
	return true, nil
}
