package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vedran77/chatten/internal/repository"
)

// RepairJob relinks messages that were persisted but never appended to their
// conversation's message list.
type RepairJob struct {
	messageRepo repository.MessageRepository
	interval    time.Duration
}

func NewRepairJob(messageRepo repository.MessageRepository, interval time.Duration) *RepairJob {
	return &RepairJob{messageRepo: messageRepo, interval: interval}
}

// RunOnce performs a single pass and returns the number of relinked messages.
func (j *RepairJob) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.messageRepo.RelinkOrphans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn("repair: relinked orphaned messages", "count", n)
	}
	return n, nil
}

// Run performs a pass immediately and then every interval until ctx is done.
func (j *RepairJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("repair pass failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
