// Package maintenance runs periodic promotion sweeps and reconciliation as a
// Temporal workflow.
package maintenance

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/taxonomy-cli/internal/promotion"
)

// Registered workflow and activity names.
const (
	WorkflowName      = "TaxonomyMaintenance"
	ActivitySweep     = "SweepPromotions"
	ActivityReconcile = "ReconcilePromotions"
)

// Input controls one maintenance run.
type Input struct {
	// SkipReconcile runs only the promotion sweep.
	SkipReconcile bool `json:"skip_reconcile,omitempty"`
}

// Result reports what a maintenance run changed.
type Result struct {
	Reconcile *promotion.ReconcileReport `json:"reconcile,omitempty"`
	Sweep     *promotion.SweepResult     `json:"sweep"`
}

// Workflow reconciles promotion state first so the sweep sees a consistent
// vocabulary, then promotes every eligible usage row.
func Workflow(ctx workflow.Context, in Input) (*Result, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
	logger := workflow.GetLogger(ctx)

	res := &Result{}
	if !in.SkipReconcile {
		var report promotion.ReconcileReport
		if err := workflow.ExecuteActivity(ctx, ActivityReconcile).Get(ctx, &report); err != nil {
			return nil, err
		}
		res.Reconcile = &report
		if len(report.Repaired)+len(report.Orphaned) > 0 {
			logger.Warn("inconsistent promotions found", "repaired", len(report.Repaired), "orphaned", len(report.Orphaned))
		}
	}

	var sweep promotion.SweepResult
	if err := workflow.ExecuteActivity(ctx, ActivitySweep).Get(ctx, &sweep); err != nil {
		return nil, err
	}
	res.Sweep = &sweep
	logger.Info("maintenance complete", "evaluated", sweep.Evaluated, "promoted", len(sweep.Promoted))
	return res, nil
}
