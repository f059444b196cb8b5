// Package notify delivers terminal deployment outcomes to an external webhook
// and streams stage progress to dashboard subscribers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/gantrydev/gantry/internal/domain"
	"github.com/gantrydev/gantry/internal/ws"
)

// TerminalType is the outcome vocabulary of the webhook contract.
type TerminalType string

const (
	TerminalSuccess TerminalType = "success"
	TerminalFailure TerminalType = "failure"
)

type terminalPayload struct {
	DeploymentID string       `json:"deployment_id"`
	TerminalType TerminalType `json:"terminal_type"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Gateway pushes notifications out of the pipeline. Delivery is fire and
// forget: a webhook failure is logged and never fails a deployment.
type Gateway struct {
	webhookURL string
	client     *http.Client
	hub        *ws.Hub
	logger     *slog.Logger
}

// NewGateway constructs a Gateway. An empty webhook URL disables the outbound
// call; stage streaming still works.
func NewGateway(webhookURL string, timeout time.Duration, hub *ws.Hub, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var client *http.Client
	if webhookURL != "" {
		client = &http.Client{Timeout: timeout}
	}
	return &Gateway{webhookURL: webhookURL, client: client, hub: hub, logger: logger}
}

// NotifyTerminal reports a finished deployment to the webhook and the event
// stream.
func (g *Gateway) NotifyTerminal(ctx context.Context, deployment *domain.Deployment, terminal domain.DeploymentStatus) {
	terminalType := TerminalFailure
	if terminal == domain.DeploymentSuccess {
		terminalType = TerminalSuccess
	}

	if g.hub != nil {
		g.hub.Publish(ws.Event{
			Kind:         "deployment_finished",
			ProjectID:    deployment.ProjectID,
			DeploymentID: deployment.ID,
			Status:       string(terminal),
			Timestamp:    time.Now().UTC(),
		})
	}

	if g.client == nil {
		return
	}
	payload := terminalPayload{
		DeploymentID: deployment.ID,
		TerminalType: terminalType,
		Timestamp:    time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("marshal notification payload failed", "deployment_id", deployment.ID, "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.webhookURL, bytes.NewReader(body))
	if err != nil {
		g.logger.Warn("create notification request failed", "deployment_id", deployment.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("notification request failed", "deployment_id", deployment.ID, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		g.logger.Warn("notification rejected", "deployment_id", deployment.ID, "status_code", resp.StatusCode)
		return
	}
	g.logger.Info("terminal notification delivered", "deployment_id", deployment.ID, "terminal_type", terminalType)
}

// PublishStage streams a stage transition to the project's subscribers.
func (g *Gateway) PublishStage(_ context.Context, deployment *domain.Deployment, stage *domain.PipelineStage) {
	if g.hub == nil {
		return
	}
	g.hub.Publish(ws.Event{
		Kind:         "stage_update",
		ProjectID:    deployment.ProjectID,
		DeploymentID: deployment.ID,
		Stage:        stage.Name,
		Status:       string(stage.Status),
		Detail:       stage.Error,
		Timestamp:    time.Now().UTC(),
	})
}
