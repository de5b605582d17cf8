package lotstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/utils"
	"goflare.io/pricekeeper/pkg/serialization"
)

const maxPublishAttempts = 3

// Redis stores each lot under <prefix>:lot:<id> and keeps the ids in the
// <prefix>:lots set.
type Redis struct {
	client redis.UniversalClient
	codec  *serialization.Codec
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedis creates a Redis store on an existing client.
func NewRedis(client redis.UniversalClient, codec *serialization.Codec, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = "pricekeeper"
	}
	return &Redis{client: client, codec: codec, prefix: prefix, logger: logger, now: time.Now}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) indexKey() string {
	return r.prefix + ":lots"
}

func (r *Redis) lotKey(id string) string {
	return r.prefix + ":lot:" + id
}

// unavailable marks a transport failure as retryable.
func unavailable(err error) error {
	return &models.TemporaryError{Err: fmt.Errorf("%w: %w", models.ErrLotStoreUnavailable, err)}
}

func (r *Redis) ListLots(ctx context.Context) ([]models.Lot, error) {
	lots, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	return enabledOnly(lots), nil
}

func (r *Redis) All(ctx context.Context) ([]models.Lot, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.lotKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	lots := make([]models.Lot, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// indexed but the record is gone
			r.logger.Warn("Dangling lot index entry", zap.String("lot_id", ids[i]))
			continue
		}
		var lot models.Lot
		if err := r.codec.Unmarshal([]byte(raw), &lot); err != nil {
			r.logger.Error("Failed to decode lot", zap.String("lot_id", ids[i]), zap.Error(err))
			continue
		}
		lots = append(lots, lot)
	}
	sortByID(lots)
	return lots, nil
}

func (r *Redis) GetLot(ctx context.Context, lotID string) (models.Lot, error) {
	return r.get(ctx, r.client, lotID)
}

func (r *Redis) get(ctx context.Context, cmd redis.Cmdable, lotID string) (models.Lot, error) {
	data, err := cmd.Get(ctx, r.lotKey(lotID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Lot{}, fmt.Errorf("%w: %s", models.ErrLotNotFound, lotID)
		}
		return models.Lot{}, unavailable(err)
	}
	var lot models.Lot
	if err := r.codec.Unmarshal(data, &lot); err != nil {
		return models.Lot{}, fmt.Errorf("decode lot %s: %w", lotID, err)
	}
	return lot, nil
}

// PublishPrice updates the lot's current price inside a WATCH transaction so
// a concurrent Save is never overwritten with stale fields.
func (r *Redis) PublishPrice(ctx context.Context, lotID string, price float64) error {
	key := r.lotKey(lotID)
	txf := func(tx *redis.Tx) error {
		lot, err := r.get(ctx, tx, lotID)
		if err != nil {
			return err
		}
		lot.CurrentPrice = price
		lot.UpdatedAt = r.now()
		data, err := r.codec.Marshal(lot)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		r.logger.Debug("Lot changed during publish, retrying", zap.String("lot_id", lotID))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPublishFailure, err)
	}
	return nil
}

func (r *Redis) Save(ctx context.Context, lot models.Lot) error {
	if err := validate(lot); err != nil {
		return err
	}
	lot.ReferenceCurrency = utils.NormalizeCurrency(lot.ReferenceCurrency)

	data, err := r.codec.Marshal(lot)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.lotKey(lot.ID), data, 0)
		pipe.SAdd(ctx, r.indexKey(), lot.ID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, lotID string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.lotKey(lotID))
		pipe.SRem(ctx, r.indexKey(), lotID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", models.ErrLotNotFound, lotID)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
