package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/order-payments/internal/events"
	"github.com/d60-Lab/order-payments/internal/model"
)

// ReclaimAfter processing 状态超过该时长视为认领者已崩溃，事件重新放回 pending
const ReclaimAfter = 5 * time.Minute

// OutboxRelay 轮询 outbox，把订单事件投递到消息队列
type OutboxRelay struct {
	db           *gorm.DB
	pub          events.Publisher
	batchSize    int
	pollInterval time.Duration
	workers      int
	log          *zap.Logger
	metricsCh    chan time.Duration // outbox->published latency
}

func NewOutboxRelay(db *gorm.DB, pub events.Publisher, workers, batchSize int, pollInterval time.Duration, log *zap.Logger) *OutboxRelay {
	if workers <= 0 {
		workers = 1
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OutboxRelay{
		db:           db,
		pub:          pub,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		workers:      workers,
		log:          log,
		metricsCh:    make(chan time.Duration, 4096),
	}
}

func (w *OutboxRelay) Metrics() <-chan time.Duration { return w.metricsCh }

// Start 启动若干 worker 轮询 outbox；返回停止函数，等待进行中的批次结束
func (w *OutboxRelay) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *OutboxRelay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(context.Background()); err != nil {
				w.log.Warn("outbox relay batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 认领一批 pending 事件并逐条投递，返回处理条数
func (w *OutboxRelay) ProcessOnce(ctx context.Context) (int, error) {
	if err := w.reclaimStale(ctx); err != nil {
		return 0, err
	}

	var batch []model.Outbox
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SELECT ... FOR UPDATE SKIP LOCKED，多实例并发认领互不阻塞
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", model.OutboxStatusPending).
			Order("created_at").
			Limit(w.batchSize).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).
			Updates(map[string]any{"status": model.OutboxStatusProcessing, "claimed_at": time.Now().UTC()}).Error
	})
	if err != nil {
		return 0, err
	}

	for _, b := range batch {
		pubErr := w.pub.Publish(ctx, events.Event{
			ID:          b.ID,
			AggregateID: b.AggregateID,
			Type:        b.EventType,
			Payload:     b.Payload,
			OccurredAt:  b.CreatedAt,
		})
		now := time.Now().UTC()
		updates := map[string]any{"status": model.OutboxStatusDone, "processed_at": now, "last_error": ""}
		if pubErr != nil {
			w.log.Warn("publish outbox event failed",
				zap.String("event_id", b.ID),
				zap.String("type", b.EventType),
				zap.Error(pubErr))
			updates["status"] = model.OutboxStatusFailed
			updates["last_error"] = pubErr.Error()
		}
		if err := w.db.WithContext(ctx).Model(&model.Outbox{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
			return 0, err
		}
		if pubErr == nil && !b.CreatedAt.IsZero() {
			select {
			case w.metricsCh <- time.Since(b.CreatedAt):
			default:
			}
		}
	}
	return len(batch), nil
}

// reclaimStale 把认领后长时间未完成的事件放回 pending，下游按事件 ID 去重
func (w *OutboxRelay) reclaimStale(ctx context.Context) error {
	res := w.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("status = ? AND (claimed_at IS NULL OR claimed_at < ?)", model.OutboxStatusProcessing, time.Now().UTC().Add(-ReclaimAfter)).
		Updates(map[string]any{"status": model.OutboxStatusPending, "claimed_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		w.log.Warn("reclaimed stale outbox events", zap.Int64("count", res.RowsAffected))
	}
	return nil
}
