/**
 * @description
 * Scheduled reconciliation of processor payments. Webhooks are the
 * primary signal; this job is the fallback for deliveries that never
 * arrive. It polls the processor for applications that have an intent on
 * file but no verified payment, and applies the same confirmation path
 * the webhook handler uses, so a reconciled payment is indistinguishable
 * from a delivered one.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron scheduling with panic recovery.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// reconcileTimeout bounds a single reconcile run.
const reconcileTimeout = 2 * time.Minute

// Scheduler runs the payment reconciliation job on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	service   *Service
	schedule  string
	batchSize int
}

// NewScheduler creates a scheduler that reconciles up to batchSize
// applications per run on the given cron schedule.
func NewScheduler(service *Service, schedule string, batchSize int) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		service:   service,
		schedule:  schedule,
		batchSize: batchSize,
	}
}

// Start registers the reconcile job and starts the cron loop.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runReconcile); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule payment reconcile job\" schedule=%q err=%v", s.schedule, err)
		return
	}
	log.Printf("level=info component=scheduler msg=\"scheduled payment reconcile job\" schedule=%q batch_size=%d", s.schedule, s.batchSize)
	s.cron.Start()
}

// Stop gracefully stops the cron loop. The returned context is done when
// any in-flight run has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	if err := s.service.ReconcilePendingPayments(ctx, s.batchSize); err != nil {
		log.Printf("level=error component=scheduler msg=\"payment reconcile run failed\" err=%v", err)
	}
}

// ReconcilePendingPayments checks unverified applications that hold a
// processor intent against the processor's current view and applies
// confirmations or failures accordingly. Each application is handled
// independently; one bad row does not stop the batch.
func (s *Service) ReconcilePendingPayments(ctx context.Context, batchSize int) error {
	apps, err := s.repo.ListUnverifiedWithIntent(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		return nil
	}
	log.Printf("level=info component=app msg=\"reconciling pending payments\" count=%d", len(apps))

	for _, app := range apps {
		if app.ProcessorPaymentID == nil || *app.ProcessorPaymentID == "" {
			continue
		}
		intent, err := s.payments.GetPaymentIntent(ctx, *app.ProcessorPaymentID)
		if err != nil {
			log.Printf("level=warn component=app msg=\"reconcile intent lookup failed\" application_id=%s intent_id=%s err=%v", app.ID, *app.ProcessorPaymentID, err)
			continue
		}

		switch intent.Status {
		case "succeeded":
			applied, err := s.ConfirmProcessorPayment(ctx, app.ID, intent.ID)
			if err != nil {
				log.Printf("level=error component=app msg=\"reconcile confirmation failed\" application_id=%s err=%v", app.ID, err)
				continue
			}
			if applied {
				log.Printf("level=info component=app msg=\"payment reconciled\" application_id=%s intent_id=%s", app.ID, intent.ID)
			}
		case "canceled":
			if _, err := s.FailProcessorPayment(ctx, app.ID, "intent canceled at processor"); err != nil {
				log.Printf("level=error component=app msg=\"reconcile failure update failed\" application_id=%s err=%v", app.ID, err)
			}
		}
	}
	return nil
}
