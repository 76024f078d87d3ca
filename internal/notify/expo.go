// internal/notify/expo.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// chunkSize is the Expo limit of messages per request.
const chunkSize = 100

// TokenSource resolves participant ids to device push tokens.
type TokenSource interface {
	PushTokens(ctx context.Context, ids []string) ([]string, error)
}

type pushMessage struct {
	To    string         `json:"to"`
	Sound string         `json:"sound,omitempty"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Dispatcher sends Expo push notifications in the background. Callers never
// see the outcome.
type Dispatcher struct {
	url    string
	tokens TokenSource
	client *http.Client
	logger *logrus.Logger

	wg sync.WaitGroup
}

// NewDispatcher posts to url. A nil dispatcher, an empty url or a nil token
// source turns Notify into a no-op.
func NewDispatcher(url string, tokens TokenSource, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		url:    url,
		tokens: tokens,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify pushes title/body to every participant with a registered device.
func (d *Dispatcher) Notify(participantIDs []string, title, body string, data map[string]any) {
	if d == nil || d.url == "" || d.tokens == nil || len(participantIDs) == 0 {
		return
	}
	ids := append([]string(nil), participantIDs...)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.send(ctx, ids, title, body, data); err != nil {
			d.logger.WithError(err).Warn("push notification failed")
		}
	}()
}

// Wait blocks until in-flight sends finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

func (d *Dispatcher) send(ctx context.Context, ids []string, title, body string, data map[string]any) error {
	tokens, err := d.tokens.PushTokens(ctx, ids)
	if err != nil {
		return fmt.Errorf("load push tokens: %w", err)
	}

	var msgs []pushMessage
	for _, tok := range tokens {
		if !IsExpoPushToken(tok) {
			d.logger.WithField("token", tok).Debug("skipping invalid expo push token")
			continue
		}
		msgs = append(msgs, pushMessage{To: tok, Sound: "default", Title: title, Body: body, Data: data})
	}

	for start := 0; start < len(msgs); start += chunkSize {
		end := min(start+chunkSize, len(msgs))
		if err := d.post(ctx, msgs[start:end]); err != nil {
			d.logger.WithError(err).WithField("count", end-start).Warn("push chunk failed")
		}
	}
	return nil
}

func (d *Dispatcher) post(ctx context.Context, chunk []pushMessage) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("expo push returned %s", resp.Status)
	}
	return nil
}

// IsExpoPushToken reports whether tok looks like an Expo device token.
func IsExpoPushToken(tok string) bool {
	return (strings.HasPrefix(tok, "ExponentPushToken[") || strings.HasPrefix(tok, "ExpoPushToken[")) &&
		strings.HasSuffix(tok, "]")
}
