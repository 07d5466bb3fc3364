package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const feedKeyPrefix = "feed:"

// RedisFeed reads price rounds published to Redis hashes by an external
// publisher process. Each feed handle maps to a hash at "feed:<handle>" with
// fields price, updated_at and round_id.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed wraps the provided Redis client as a price adapter.
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// LatestRound fetches and parses the published round. Missing or malformed
// entries surface as a zero Round so the converter rejects them as invalid;
// only transport failures return an error.
func (f *RedisFeed) LatestRound(ctx context.Context, handle string) (Round, error) {
	if f.client == nil {
		return Round{}, fmt.Errorf("oracle: redis client not configured")
	}

	fields, err := f.client.HGetAll(ctx, feedKeyPrefix+handle).Result()
	if err != nil {
		return Round{}, fmt.Errorf("oracle: read feed %q: %w", handle, err)
	}
	if len(fields) == 0 {
		return Round{}, nil
	}

	price, ok := new(big.Int).SetString(fields["price"], 10)
	if !ok {
		return Round{}, nil
	}
	updatedAt, err := strconv.ParseUint(fields["updated_at"], 10, 64)
	if err != nil {
		return Round{}, nil
	}
	roundID, err := strconv.ParseUint(fields["round_id"], 10, 64)
	if err != nil {
		return Round{}, nil
	}

	return Round{Price: price, UpdatedAt: updatedAt, RoundID: roundID}, nil
}
