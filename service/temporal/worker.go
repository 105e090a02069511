package temporal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/brojonat/nftstake/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/workflow"
	"go.temporal.io/sdk/worker"
)

const defaultMaxConcurrentActivities = 10

// WorkerConfig configures the confirmation worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// Store and StatusChecker are required.
	Store         StoreInterface
	StatusChecker StatusCheckerInterface
	Publisher     PublisherInterface // nil disables event publishing
	Metrics       *metrics.Metrics   // nil disables metrics
	Logger        *slog.Logger

	// MaxConcurrentActivities bounds in-flight RPC and DB calls. Zero means 10.
	MaxConcurrentActivities int
}

func (c WorkerConfig) validate() error {
	var errs []error
	if c.TaskQueue == "" {
		errs = append(errs, errors.New("task queue is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if c.StatusChecker == nil {
		errs = append(errs, errors.New("status checker is required"))
	}
	if c.MaxConcurrentActivities < 0 {
		errs = append(errs, errors.New("max concurrent activities cannot be negative"))
	}
	return errors.Join(errs...)
}

// Worker runs ConfirmSubmissionWorkflow and its activities.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker validates config, dials Temporal and registers the confirmation
// workflow and activities on config.TaskQueue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentActivities == 0 {
		config.MaxConcurrentActivities = defaultMaxConcurrentActivities
	}
	logger := config.Logger.With("component", "temporal_worker")

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConcurrentActivities,
	})

	w.RegisterWorkflowWithOptions(ConfirmSubmissionWorkflow, workflow.RegisterOptions{
		Name: ConfirmSubmissionWorkflowName,
	})

	// Registered by method name; the workflow schedules them through a nil *Activities.
	activities := NewActivities(config.Store, config.StatusChecker, config.Publisher, config.Metrics, logger)
	w.RegisterActivity(activities.CheckSignatureStatus)
	w.RegisterActivity(activities.RecordSubmissionStatus)
	w.RegisterActivity(activities.PublishStakingEvent)

	logger.Info("confirmation worker ready",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
		"max_concurrent_activities", config.MaxConcurrentActivities,
		"publishing", config.Publisher != nil,
	)

	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Start processes tasks until interruptCh is closed or the worker fails.
func (w *Worker) Start(interruptCh <-chan interface{}) error {
	if err := w.worker.Run(interruptCh); err != nil {
		w.logger.Error("worker stopped with error", "error", err)
		return fmt.Errorf("worker stopped with error: %w", err)
	}
	w.logger.Info("worker stopped")
	return nil
}

// Stop closes the Temporal connection. Call it after Start returns.
func (w *Worker) Stop() {
	w.client.Close()
}
