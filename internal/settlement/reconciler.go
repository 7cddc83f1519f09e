package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// DefaultReconcileSchedule runs the reconciler once a minute
const DefaultReconcileSchedule = "@every 1m"

// ReconcileSummary counts the outcome of one reconciler run
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Reconciler periodically re-resolves project submissions that were accepted
// by the ledger but never confirmed, and fills in their project ids
type Reconciler struct {
	service   *Service
	repo      mirror.Repository
	cron      *cron.Cron
	schedule  string
	batchSize int
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
	runMu   sync.Mutex
}

// NewReconciler creates a reconciler. An empty schedule uses
// DefaultReconcileSchedule.
func NewReconciler(service *Service, repo mirror.Repository, schedule string, logger *zap.Logger) *Reconciler {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		service:   service,
		repo:      repo,
		cron:      cron.New(),
		schedule:  schedule,
		batchSize: 50,
		logger:    logger,
	}
}

// Start schedules the reconciler. Runs use ctx until Stop is called.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("reconciler already running")
	}

	_, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Reconciler run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconciler schedule %q: %w", r.schedule, err)
	}

	r.logger.Info("Starting reconciler", zap.String("schedule", r.schedule))
	r.cron.Start()
	r.running = true
	return nil
}

// Stop stops scheduling and waits for a running job to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.logger.Info("Stopping reconciler")
	<-r.cron.Stop().Done()
	r.running = false
}

// RunOnce re-resolves one batch of unconfirmed submissions. Overlapping runs
// are serialised.
func (r *Reconciler) RunOnce(ctx context.Context) (*ReconcileSummary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	subs, err := r.repo.ListUnconfirmedSubmissions(ctx, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to load unconfirmed submissions: %w", err)
	}

	summary := &ReconcileSummary{}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		switch r.reconcile(ctx, sub) {
		case mirror.SubmissionConfirmed:
			summary.Confirmed++
		case mirror.SubmissionFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	if summary.Checked > 0 {
		r.logger.Info("Reconciler run completed",
			zap.Int("checked", summary.Checked),
			zap.Int("confirmed", summary.Confirmed),
			zap.Int("failed", summary.Failed),
			zap.Int("pending", summary.Pending))
	}
	return summary, nil
}

// reconcile resolves one submission and returns its new status
func (r *Reconciler) reconcile(ctx context.Context, sub *mirror.PendingSubmission) string {
	rec, err := r.service.resolver.AwaitString(ctx, sub.TransactionID)
	if err != nil {
		if ctx.Err() != nil {
			// interrupted run: the row stays as it was for the next one
			return mirror.SubmissionUnconfirmed
		}
		attempts := r.service.resolver.Config().MaxAttempts
		var rerr *finality.ResolutionError
		if errors.As(err, &rerr) {
			attempts = rerr.Attempts
		}
		sub.Attempts += attempts
		sub.LastError = err.Error()
		if !retryable(err) {
			sub.Status = mirror.SubmissionFailed
		}
		r.save(ctx, sub)
		return sub.Status
	}

	if err := rec.Err(); err != nil {
		sub.Status = mirror.SubmissionFailed
		sub.LastError = err.Error()
		r.save(ctx, sub)
		return sub.Status
	}

	id, err := rec.ContractFunctionResult.Uint64(0)
	if err != nil {
		sub.Status = mirror.SubmissionFailed
		sub.LastError = err.Error()
		r.save(ctx, sub)
		return sub.Status
	}

	r.logger.Info("Submission confirmed by reconciler",
		zap.String("transaction_id", sub.TransactionID),
		zap.Uint64("project_id", id))
	r.service.confirmSubmission(ctx, rec, ledger.AccountID(sub.Proposer), sub.MetadataReference, sub.FeePaid, id)
	return mirror.SubmissionConfirmed
}

// retryable reports whether a resolution failure should leave the submission
// unconfirmed for the next run
func retryable(err error) bool {
	return errors.Is(err, finality.ErrRecordUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Reconciler) save(ctx context.Context, sub *mirror.PendingSubmission) {
	if err := r.repo.SaveSubmission(ctx, sub); err != nil {
		r.logger.Error("Failed to update submission",
			zap.String("transaction_id", sub.TransactionID),
			zap.Error(err))
	}
}
