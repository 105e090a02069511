package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// ConfirmationStarter starts confirmation tracking for a submitted transaction.
type ConfirmationStarter interface {
	StartConfirmation(ctx context.Context, input ConfirmSubmissionInput) (string, error)
}

// Client is the production ConfirmationStarter. It talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger

	// Applied to inputs that leave PollInterval or Timeout unset.
	pollInterval time.Duration
	timeout      time.Duration
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartConfirmation starts ConfirmSubmissionWorkflow for input.Signature and
// returns the workflow ID. Starting it again for a running signature returns
// the existing run.
func (c *Client) StartConfirmation(ctx context.Context, input ConfirmSubmissionInput) (string, error) {
	id := ConfirmationWorkflowID(input.Signature)

	if input.PollInterval <= 0 {
		input.PollInterval = c.pollInterval
	}
	if input.Timeout <= 0 {
		input.Timeout = c.timeout
	}
	timeout := input.Timeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: timeout + 5*time.Minute,
		Memo: map[string]interface{}{
			"owner":  input.Owner,
			"action": input.Action,
		},
	}, ConfirmSubmissionWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start confirmation workflow",
			"signature", input.Signature,
			"error", err,
		)
		return "", fmt.Errorf("failed to start confirmation workflow %q: %w", id, err)
	}

	c.logger.Info("confirmation workflow started",
		"signature", input.Signature,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	return run.GetID(), nil
}

// SetConfirmTiming sets the poll interval and timeout used for confirmations
// started without their own.
func (c *Client) SetConfirmTiming(pollInterval, timeout time.Duration) {
	c.pollInterval = pollInterval
	c.timeout = timeout
}

// GetConfirmationResult blocks until the confirmation workflow for signature
// completes and returns its result.
func (c *Client) GetConfirmationResult(ctx context.Context, signature string) (*ConfirmSubmissionResult, error) {
	id := ConfirmationWorkflowID(signature)
	var result ConfirmSubmissionResult
	if err := c.client.GetWorkflow(ctx, id, "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get confirmation result %q: %w", id, err)
	}
	return &result, nil
}

// ConfirmationDescription summarizes a confirmation workflow execution.
type ConfirmationDescription struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
}

// DescribeConfirmation reports the execution status of the confirmation
// workflow for signature.
func (c *Client) DescribeConfirmation(ctx context.Context, signature string) (*ConfirmationDescription, error) {
	id := ConfirmationWorkflowID(signature)
	resp, err := c.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", id, err)
	}

	info := resp.GetWorkflowExecutionInfo()
	desc := &ConfirmationDescription{
		WorkflowID: info.GetExecution().GetWorkflowId(),
		RunID:      info.GetExecution().GetRunId(),
		Status:     info.GetStatus().String(),
	}
	if ts := info.GetStartTime(); ts != nil {
		t := ts.AsTime()
		desc.StartTime = &t
	}
	if ts := info.GetCloseTime(); ts != nil {
		t := ts.AsTime()
		desc.CloseTime = &t
	}
	return desc, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// ConfirmationWorkflowID is the workflow ID used to track signature.
func ConfirmationWorkflowID(signature string) string {
	return "confirm-" + signature
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
