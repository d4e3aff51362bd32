package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// Config configures the Temporal connection, worker and schedule.
type Config struct {
	HostPort    string `yaml:"host_port" mapstructure:"host_port"`
	Namespace   string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue   string `yaml:"task_queue" mapstructure:"task_queue"`
	ScheduleID  string `yaml:"schedule_id" mapstructure:"schedule_id"`
	Cron        string `yaml:"cron" mapstructure:"cron"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// Defaults for unset Config fields.
const (
	DefaultNamespace  = "default"
	DefaultTaskQueue  = "taxonomy-maintenance"
	DefaultScheduleID = "taxonomy-maintenance-nightly"
	DefaultCron       = "0 3 * * *"
)

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.TaskQueue == "" {
		c.TaskQueue = DefaultTaskQueue
	}
	if c.ScheduleID == "" {
		c.ScheduleID = DefaultScheduleID
	}
	if c.Cron == "" {
		c.Cron = DefaultCron
	}
	if c.Concurrency < 1 {
		c.Concurrency = 2
	}
	return c
}

// Dial connects to Temporal.
func Dial(ctx context.Context, cfg Config) (client.Client, error) {
	if cfg.HostPort == "" {
		return nil, eris.New("maintenance: temporal host_port is required")
	}
	cfg = cfg.withDefaults()
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.DialContext(dialCtx, client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newLogger(zap.L()),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "maintenance: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Register adds the workflow and activities to r.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.Sweep, activity.RegisterOptions{Name: ActivitySweep})
	r.RegisterActivityWithOptions(acts.Reconcile, activity.RegisterOptions{Name: ActivityReconcile})
}

// RunWorker polls the task queue until ctx is cancelled.
func RunWorker(ctx context.Context, c client.Client, cfg Config, acts *Activities) error {
	cfg = cfg.withDefaults()
	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Concurrency,
	})
	Register(w, acts)

	if err := w.Start(); err != nil {
		return eris.Wrap(err, "maintenance: start worker")
	}
	zap.L().Info("maintenance worker started",
		zap.String("namespace", cfg.Namespace),
		zap.String("task_queue", cfg.TaskQueue),
	)
	<-ctx.Done()
	w.Stop()
	zap.L().Info("maintenance worker stopped")
	return nil
}

// EnsureSchedule creates the recurring maintenance schedule. An existing
// schedule with the same id is left untouched.
func EnsureSchedule(ctx context.Context, c client.Client, cfg Config) error {
	cfg = cfg.withDefaults()
	_, err := c.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: cfg.ScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cfg.Cron},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        cfg.ScheduleID + "-run",
			Workflow:  WorkflowName,
			Args:      []any{Input{}},
			TaskQueue: cfg.TaskQueue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		zap.L().Debug("maintenance schedule exists", zap.String("schedule_id", cfg.ScheduleID))
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "maintenance: create schedule")
	}
	zap.L().Info("maintenance schedule created",
		zap.String("schedule_id", cfg.ScheduleID),
		zap.String("cron", cfg.Cron),
	)
	return nil
}

// RunOnce starts a maintenance workflow and waits for its result.
func RunOnce(ctx context.Context, c client.Client, cfg Config, in Input) (*Result, error) {
	cfg = cfg.withDefaults()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "taxonomy-maintenance-" + uuid.NewString(),
		TaskQueue: cfg.TaskQueue,
	}, WorkflowName, in)
	if err != nil {
		return nil, eris.Wrap(err, "maintenance: start workflow")
	}

	var res Result
	if err := run.Get(ctx, &res); err != nil {
		return nil, eris.Wrap(err, "maintenance: workflow failed")
	}
	return &res, nil
}
