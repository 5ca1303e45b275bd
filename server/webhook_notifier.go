package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookNotifier implements ConnectionNotifier by sending a POST request to a webhook URL.
// The payload is a JSON object defined by WebhookNotifierPayload.
type WebhookNotifier struct {
	url         string
	requireUser bool

	client *http.Client
}

const (
	WebhookEventConnecting    = "connect"
	WebhookEventDisconnecting = "disconnect"
)

const (
	WebhookStatusRejected                = "rejected"
	WebhookStatusFailedBackendConnection = "failed-backend-connection"
	WebhookStatusSuccess                 = "success"
)

type WebhookNotifierPayload struct {
	Event           string      `json:"event"`
	Timestamp       time.Time   `json:"timestamp"`
	Status          string      `json:"status"`
	Client          *ClientInfo `json:"client"`
	Server          string      `json:"server"`
	PlayerInfo      *PlayerInfo `json:"player,omitempty"`
	BackendHostPort string      `json:"backend,omitempty"`
	Error           string      `json:"error,omitempty"`
}

func NewWebhookNotifier(url string, requireUser bool) *WebhookNotifier {

	return &WebhookNotifier{
		url:         url,
		requireUser: requireUser,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *WebhookNotifier) NotifyRejected(ctx context.Context, clientAddr net.Addr, server string,
	playerInfo *PlayerInfo, err error) error {
	if w.requireUser && playerInfo == nil {
		return nil
	}

	return w.send(ctx, &WebhookNotifierPayload{
		Event:      WebhookEventConnecting,
		Timestamp:  time.Now(),
		Status:     WebhookStatusRejected,
		Client:     ClientInfoFromAddr(clientAddr),
		Server:     server,
		PlayerInfo: playerInfo,
		Error:      errorType(err),
	})
}

func (w *WebhookNotifier) NotifyFailedBackendConnection(ctx context.Context, clientAddr net.Addr, server string,
	playerInfo *PlayerInfo, backendHostPort string, err error) error {
	if w.requireUser && playerInfo == nil {
		return nil
	}

	return w.send(ctx, &WebhookNotifierPayload{
		Event:           WebhookEventConnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusFailedBackendConnection,
		Client:          ClientInfoFromAddr(clientAddr),
		Server:          server,
		PlayerInfo:      playerInfo,
		BackendHostPort: backendHostPort,
		Error:           err.Error(),
	})
}

func (w *WebhookNotifier) NotifyConnected(ctx context.Context, clientAddr net.Addr, serverAddress string,
	playerInfo *PlayerInfo, backendHostPort string) error {
	if w.requireUser && playerInfo == nil {
		return nil
	}

	return w.send(ctx, &WebhookNotifierPayload{
		Event:           WebhookEventConnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusSuccess,
		Client:          ClientInfoFromAddr(clientAddr),
		Server:          serverAddress,
		PlayerInfo:      playerInfo,
		BackendHostPort: backendHostPort,
	})
}

func (w *WebhookNotifier) NotifyDisconnected(ctx context.Context, clientAddr net.Addr, serverAddress string,
	playerInfo *PlayerInfo, backendHostPort string) error {
	if w.requireUser && playerInfo == nil {
		return nil
	}

	return w.send(ctx, &WebhookNotifierPayload{
		Event:           WebhookEventDisconnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusSuccess,
		Client:          ClientInfoFromAddr(clientAddr),
		Server:          serverAddress,
		PlayerInfo:      playerInfo,
		BackendHostPort: backendHostPort,
	})
}

// send posts payload in the background. The request is not cancelled along with ctx.
func (w *WebhookNotifier) send(ctx context.Context, payload *WebhookNotifierPayload) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		context.WithoutCancel(ctx),
		http.MethodPost,
		w.url,
		bytes.NewReader(jsonPayload),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := w.client.Do(req)
		if err != nil {
			logrus.
				WithError(err).
				WithField("url", w.url).
				Warn("Failed to send webhook notification")
			return
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 400 {
			logrus.
				WithField("status", resp.StatusCode).
				Warn("webhook receiver responded with an error")
		}
	}()

	return nil
}
