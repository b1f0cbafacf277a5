package orders

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/shipsplit-backend/pkg/db"
	"github.com/angelmondragon/shipsplit-backend/pkg/db/models"
)

const orderNumberCounter = "order_number"

// FormatOrderNumber renders the human-facing token, e.g. ORD-000042.
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("ORD-%06d", n)
}

type counterIncrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
	CounterKey(name string) string
}

// RedisSequence draws order numbers from an INCR counter.
type RedisSequence struct {
	redis counterIncrementer
	key   string
}

func NewRedisSequence(redis counterIncrementer) *RedisSequence {
	return &RedisSequence{redis: redis, key: redis.CounterKey(orderNumberCounter)}
}

func (s *RedisSequence) Next(ctx context.Context) (int64, error) {
	return s.redis.Incr(ctx, s.key)
}

// TableSequence draws order numbers from the order_counters table.
type TableSequence struct {
	db   *gorm.DB
	name string
}

func NewTableSequence(db *gorm.DB) *TableSequence {
	return &TableSequence{db: db, name: orderNumberCounter}
}

func (s *TableSequence) Next(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < 3; attempt++ {
		value, ok, err := s.increment(ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			return value, nil
		}
		err = s.db.WithContext(ctx).Create(&models.OrderCounter{Name: s.name, Value: 1}).Error
		if err == nil {
			return 1, nil
		}
		if !dbpkg.IsUniqueViolation(err, "") {
			return 0, fmt.Errorf("seed order counter: %w", err)
		}
	}
	return 0, fmt.Errorf("order counter %q unavailable", s.name)
}

func (s *TableSequence) increment(ctx context.Context) (int64, bool, error) {
	var values []int64
	err := s.db.WithContext(ctx).
		Raw("UPDATE order_counters SET value = value + 1 WHERE name = ? RETURNING value", s.name).
		Scan(&values).Error
	if err != nil {
		return 0, false, fmt.Errorf("increment order counter: %w", err)
	}
	if len(values) == 0 {
		return 0, false, nil
	}
	return values[0], true, nil
}
