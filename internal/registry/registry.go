// Package registry implements the fire-and-forget ExecutionLog mirror
// spec.md §6's MAX_REGISTRY toggle enables: a best-effort external
// collaborator the engine's correctness never depends on. Grounded on
// the teacher's ValidateWebhookURL helper (pkg/utils) and its
// callback-based "notify an external observer, log and move on on
// failure" pattern (OnOrderUpdate/OnViolation in cmd/server/main.go).
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

var webhookURLPattern = regexp.MustCompile(`^https?://[a-zA-Z0-9.-]+(/[a-zA-Z0-9._/-]*)?$`)

// Mirror is anything that can receive a copy of an ExecutionLog on a
// best-effort basis. Implementations must not block the caller for
// long, and must never return an error that the caller treats as
// authoritative — the core engine only logs Mirror failures.
type Mirror interface {
	Send(ctx context.Context, log types.ExecutionLog) error
}

// NoopMirror discards every log. Used when MAX_REGISTRY is unset.
type NoopMirror struct{}

func (NoopMirror) Send(context.Context, types.ExecutionLog) error { return nil }

// WebhookMirror posts each ExecutionLog as JSON to a configured URL.
type WebhookMirror struct {
	logger *zap.Logger
	url    string
	client *http.Client
}

// NewWebhookMirror validates url and returns a WebhookMirror, or nil
// plus false if the url is not a well-formed http(s) endpoint.
func NewWebhookMirror(logger *zap.Logger, url string) (*WebhookMirror, bool) {
	if !webhookURLPattern.MatchString(url) {
		return nil, false
	}
	return &WebhookMirror{
		logger: logger.Named("registry"),
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}, true
}

// New builds the Mirror the engine should use for the given
// MAX_REGISTRY setting: a NoopMirror when empty, a WebhookMirror when
// it parses as a URL, otherwise a NoopMirror with a warning logged (a
// malformed MAX_REGISTRY value disables mirroring rather than crashing
// the engine).
func New(logger *zap.Logger, maxRegistry string) Mirror {
	if maxRegistry == "" {
		return NoopMirror{}
	}
	m, ok := NewWebhookMirror(logger, maxRegistry)
	if !ok {
		logger.Named("registry").Warn("MAX_REGISTRY is not a valid webhook URL; mirroring disabled", zap.String("value", maxRegistry))
		return NoopMirror{}
	}
	return m
}

func (w *WebhookMirror) Send(ctx context.Context, log types.ExecutionLog) error {
	body, err := json.Marshal(log)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return http.StatusText(e.status)
}

// MirrorAsync fires Send in its own goroutine with a bounded timeout,
// logging failure and never propagating it to the caller, matching
// spec.md §6's "best-effort, fire-and-forget" framing.
func MirrorAsync(logger *zap.Logger, m Mirror, log types.ExecutionLog) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.Send(ctx, log); err != nil {
			logger.Named("registry").Warn("mirror send failed", zap.String("logId", log.ID), zap.Error(err))
		}
	}()
}
