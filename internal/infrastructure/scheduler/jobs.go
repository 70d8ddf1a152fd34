package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/entitlesync/engine/internal/application/offline"
	"github.com/entitlesync/engine/internal/application/transaction"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"go.uber.org/zap"
)

// MappingRefresher refreshes the product entitlement mapping when stale
type MappingRefresher interface {
	RefreshIfStale(ctx context.Context) error
}

// PendingSyncer re-posts stored pending transactions
type PendingSyncer interface {
	SyncPending(ctx context.Context, appUserID string) (transaction.SyncReport, error)
}

// AttributeSyncer pushes unsynced subscriber attributes for every user
type AttributeSyncer interface {
	SyncAll(ctx context.Context) error
}

// CustomerInfoRefresher fetches customer info for a user whose cache is stale
type CustomerInfoRefresher interface {
	IsStale(ctx context.Context, appUserID string, background bool) bool
	FetchAndCache(ctx context.Context, appUserID string) (customer.CustomerInfo, error)
}

// Intervals holds the period of each background sync job. A zero period
// leaves the job available for manual runs only.
type Intervals struct {
	Mapping      time.Duration
	Transactions time.Duration
	Attributes   time.Duration
	CustomerInfo time.Duration
}

// Dependencies wires the application services the sync jobs drive. Nil
// services leave their job unregistered.
type Dependencies struct {
	Mappings     MappingRefresher
	Transactions PendingSyncer
	Attributes   AttributeSyncer
	CustomerInfo CustomerInfoRefresher
	Identity     customer.Identity
}

// SyncJobs builds the standard job set
func SyncJobs(deps Dependencies, intervals Intervals, logger *zap.Logger) []Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	var jobs []Job
	if deps.Mappings != nil {
		jobs = append(jobs, Job{Name: JobMappingRefresh, Interval: intervals.Mapping, Run: MappingRefreshJob(deps.Mappings)})
	}
	if deps.Transactions != nil {
		jobs = append(jobs, Job{Name: JobPendingTransactions, Interval: intervals.Transactions, Run: PendingTransactionsJob(deps.Transactions, deps.Identity, logger)})
	}
	if deps.Attributes != nil {
		jobs = append(jobs, Job{Name: JobSubscriberAttributes, Interval: intervals.Attributes, Run: deps.Attributes.SyncAll})
	}
	if deps.CustomerInfo != nil && deps.Identity != nil {
		jobs = append(jobs, Job{Name: JobCustomerInfoRefresh, Interval: intervals.CustomerInfo, Run: CustomerInfoRefreshJob(deps.CustomerInfo, deps.Identity)})
	}
	return jobs
}

// MappingRefreshJob refreshes the mapping. Modes that never compute
// offline entitlements make the job a no-op.
func MappingRefreshJob(refresher MappingRefresher) JobFunc {
	return func(ctx context.Context) error {
		err := refresher.RefreshIfStale(ctx)
		if errors.Is(err, offline.ErrNotAvailable) {
			return nil
		}
		return err
	}
}

// PendingTransactionsJob retries stored pending transactions on behalf of
// the current user. Individual post failures stay queued and are logged,
// not reported as a job failure.
func PendingTransactionsJob(syncer PendingSyncer, identity customer.Identity, logger *zap.Logger) JobFunc {
	return func(ctx context.Context) error {
		appUserID := ""
		if identity != nil {
			appUserID = identity.CurrentAppUserID()
		}
		report, err := syncer.SyncPending(ctx, appUserID)
		if err != nil {
			return err
		}
		if report.Outcome == purchase.SyncRetried {
			logger.Info("Pending transactions retried",
				zap.Int("retried", report.Retried),
				zap.Int("failed", report.Failed),
			)
		}
		return nil
	}
}

// CustomerInfoRefreshJob refetches the current user's customer info once
// the background staleness window has elapsed
func CustomerInfoRefreshJob(refresher CustomerInfoRefresher, identity customer.Identity) JobFunc {
	return func(ctx context.Context) error {
		appUserID := identity.CurrentAppUserID()
		if appUserID == "" || !refresher.IsStale(ctx, appUserID, true) {
			return nil
		}
		_, err := refresher.FetchAndCache(ctx, appUserID)
		return err
	}
}
