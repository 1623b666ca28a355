package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"gitea.kood.tech/petrkubec/matrimony/backend/logger"
	"gitea.kood.tech/petrkubec/matrimony/backend/metrics"
)

type recordPruner interface {
	PruneMatchRecords(ctx context.Context, before time.Time) (int64, error)
}

// retentionJob deletes match history older than the retention window on a
// cron schedule.
type retentionJob struct {
	cron      *cron.Cron
	store     recordPruner
	retention time.Duration
	spec      string
	log       *logger.Logger
}

func newRetentionJob(st recordPruner, retention time.Duration, spec string, log *logger.Logger) *retentionJob {
	return &retentionJob{
		cron:      cron.New(),
		store:     st,
		retention: retention,
		spec:      spec,
		log:       log,
	}
}

func (j *retentionJob) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.spec, func() { j.run(ctx, time.Now()) }); err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	j.cron.Start()
	j.log.Info("retention job scheduled", "spec", j.spec, "retention", j.retention.String())
	return nil
}

// Stop waits for a running prune to finish.
func (j *retentionJob) Stop() {
	<-j.cron.Stop().Done()
}

func (j *retentionJob) run(ctx context.Context, now time.Time) int64 {
	cutoff := now.Add(-j.retention)
	n, err := j.store.PruneMatchRecords(ctx, cutoff)
	if err != nil {
		j.log.Error("prune match records", "error", err, "cutoff", cutoff)
		return 0
	}
	metrics.MatchRecordsPruned.Add(float64(n))
	j.log.Info("pruned match records", "deleted", n, "cutoff", cutoff)
	return n
}
