package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tracktech-scheduler/internal/models"
	"tracktech-scheduler/internal/store"

	"go.uber.org/zap"
)

// 持久化集合名称
const (
	CollectionUnits     = "units"
	CollectionLines     = "lines"
	CollectionShifts    = "shifts"
	CollectionOrders    = "orders"
	CollectionBlocks    = "scheduledBlocks"
	CollectionProcessed = "processedOrders"
)

// AllCollections 全部集合，按保存顺序
var AllCollections = []string{
	CollectionUnits,
	CollectionLines,
	CollectionShifts,
	CollectionOrders,
	CollectionBlocks,
	CollectionProcessed,
}

// Snapshot 全部集合的内存快照
type Snapshot struct {
	Units     []models.Unit
	Lines     []models.Line
	Shifts    []models.Shift
	Orders    []models.Order
	Blocks    []models.ScheduledBlock
	Processed []models.ProcessedOrder
}

// Repository 负责集合的整体读取与覆盖写入（last-write-wins）
type Repository struct {
	kv     store.KVStore
	prefix string
	logger *zap.Logger
}

// NewRepository 创建集合仓库
func NewRepository(kv store.KVStore, prefix string, logger *zap.Logger) *Repository {
	return &Repository{
		kv:     kv,
		prefix: prefix,
		logger: logger,
	}
}

func (r *Repository) key(collection string) string {
	return r.prefix + collection
}

// Load 读取全部集合；缺失或解析失败的集合视为空
func (r *Repository) Load(ctx context.Context) Snapshot {
	return Snapshot{
		Units:     loadCollection[models.Unit](ctx, r, CollectionUnits),
		Lines:     loadCollection[models.Line](ctx, r, CollectionLines),
		Shifts:    loadCollection[models.Shift](ctx, r, CollectionShifts),
		Orders:    loadCollection[models.Order](ctx, r, CollectionOrders),
		Blocks:    loadCollection[models.ScheduledBlock](ctx, r, CollectionBlocks),
		Processed: loadCollection[models.ProcessedOrder](ctx, r, CollectionProcessed),
	}
}

// Save 覆盖写入指定集合，未指定时写入全部
func (r *Repository) Save(ctx context.Context, snap Snapshot, collections ...string) error {
	if len(collections) == 0 {
		collections = AllCollections
	}

	for _, name := range collections {
		var value any
		switch name {
		case CollectionUnits:
			value = snap.Units
		case CollectionLines:
			value = snap.Lines
		case CollectionShifts:
			value = snap.Shifts
		case CollectionOrders:
			value = snap.Orders
		case CollectionBlocks:
			value = snap.Blocks
		case CollectionProcessed:
			value = snap.Processed
		default:
			return fmt.Errorf("unknown collection %q", name)
		}

		if err := r.saveCollection(ctx, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) saveCollection(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	// nil 切片写成 []，保持集合始终为 JSON 数组
	if string(data) == "null" {
		data = []byte("[]")
	}
	if err := r.kv.Set(ctx, r.key(name), string(data), 0); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	r.logger.Debug("Saved collection",
		zap.String("collection", name),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func loadCollection[T any](ctx context.Context, r *Repository, name string) []T {
	raw, err := r.kv.Get(ctx, r.key(name))
	if err != nil {
		if !errors.Is(err, store.ErrCacheMiss) {
			r.logger.Warn("Failed to read collection, starting empty",
				zap.String("collection", name),
				zap.Error(err),
			)
		}
		return []T{}
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		r.logger.Warn("Malformed collection, starting empty",
			zap.String("collection", name),
			zap.Error(err),
		)
		return []T{}
	}
	if items == nil {
		return []T{}
	}
	return items
}
