package approval

import (
	"context"
	"fmt"
	"time"

	"go-opsdesk/internal/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reconcileTimeout = 5 * time.Minute

// Reconciler periodically recomputes open entity statuses from their records.
type Reconciler struct {
	service   ApprovalService
	schedule  string
	log       *zap.Logger
	scheduler *cron.Cron
}

func NewReconciler(service ApprovalService, schedule string, log *zap.Logger) *Reconciler {
	return &Reconciler{
		service:  service,
		schedule: schedule,
		log:      log.Named("reconciler"),
	}
}

// ProvideReconciler ties the schedule to the fx lifecycle.
func ProvideReconciler(lc fx.Lifecycle, service ApprovalService, cfg *config.Config, log *zap.Logger) *Reconciler {
	r := NewReconciler(service, cfg.ReconcileSchedule, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return r.Start()
		},
		OnStop: func(ctx context.Context) error {
			r.Stop()
			return nil
		},
	})
	return r
}

func (r *Reconciler) Start() error {
	if r.schedule == "" {
		r.log.Info("Status reconciler disabled")
		return nil
	}

	r.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := r.scheduler.AddFunc(r.schedule, r.run); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.schedule, err)
	}
	r.scheduler.Start()
	r.log.Info("Status reconciler scheduled", zap.String("schedule", r.schedule))
	return nil
}

func (r *Reconciler) Stop() {
	if r.scheduler != nil {
		ctx := r.scheduler.Stop()
		<-ctx.Done()
	}
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Error("Reconcile run failed", zap.Error(err))
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	started := time.Now()
	corrected, err := r.service.Reconcile(ctx)
	r.log.Info("Reconcile run finished",
		zap.Int("corrected", corrected),
		zap.Duration("took", time.Since(started)),
	)
	return corrected, err
}
