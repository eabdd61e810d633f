package activity

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatwarden/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var redisActivityPrefix = "activity/"
var redisJoinPrefix = "joins/"

// RedisStore keeps activity windows in sorted sets scored by unix
// milliseconds. Members are "<uuid>|<fingerprint>" so identical events in the
// same millisecond stay distinct.
type RedisStore struct {
	Client    *redis.Client
	retention time.Duration
}

// NewRedisStore connects to redisURL. Keys expire after retention of
// inactivity, and PurgeBefore trims older members from busy keys.
func NewRedisStore(ctx context.Context, redisURL string, retention time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{Client: rdb, retention: retention}, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func activityKey(chatID, userID string, t model.ActivityType) string {
	return redisActivityPrefix + chatID + "/" + userID + "/" + string(t)
}

func joinKey(chatID string) string {
	return redisJoinPrefix + chatID
}

func (s *RedisStore) add(ctx context.Context, key string, ms int64, fingerprint string) error {
	multi := s.Client.TxPipeline()
	multi.ZAdd(ctx, key, redis.Z{Score: float64(ms), Member: uuid.NewString() + "|" + fingerprint})
	if s.retention > 0 {
		multi.Expire(ctx, key, s.retention)
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisStore) AppendActivity(ctx context.Context, rec model.ActivityRecord) error {
	key := activityKey(rec.ChatID, rec.UserID, rec.ActivityType)
	if err := s.add(ctx, key, rec.CreatedAtMs, rec.Fingerprint); err != nil {
		return fmt.Errorf("failed to append activity to %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ActivitySince(ctx context.Context, chatID, userID string, t model.ActivityType, sinceMs int64) ([]model.ActivityRecord, error) {
	key := activityKey(chatID, userID, t)
	members, err := s.Client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMs, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity from %s: %w", key, err)
	}
	records := make([]model.ActivityRecord, 0, len(members))
	for _, z := range members {
		member, _ := z.Member.(string)
		_, fingerprint, _ := strings.Cut(member, "|")
		records = append(records, model.ActivityRecord{
			ChatID:       chatID,
			UserID:       userID,
			ActivityType: t,
			Fingerprint:  fingerprint,
			CreatedAtMs:  int64(z.Score),
		})
	}
	return records, nil
}

func (s *RedisStore) AppendJoin(ctx context.Context, rec model.JoinRecord) error {
	key := joinKey(rec.ChatID)
	if err := s.add(ctx, key, rec.CreatedAtMs, rec.UserID); err != nil {
		return fmt.Errorf("failed to append join to %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) CountJoinsSince(ctx context.Context, chatID string, sinceMs int64) (int, error) {
	key := joinKey(chatID)
	n, err := s.Client.ZCount(ctx, key, strconv.FormatInt(sinceMs, 10), "+inf").Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to count joins in %s: %w", key, err)
	}
	return int(n), nil
}

// PurgeBefore walks every activity and join key and drops members scored
// before beforeMs.
func (s *RedisStore) PurgeBefore(ctx context.Context, beforeMs int64) (int64, error) {
	max := "(" + strconv.FormatInt(beforeMs, 10)
	var total int64
	for _, prefix := range []string{redisActivityPrefix, redisJoinPrefix} {
		iter := s.Client.Scan(ctx, 0, prefix+"*", 500).Iterator()
		for iter.Next(ctx) {
			n, err := s.Client.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Result()
			if err != nil {
				return total, fmt.Errorf("failed to purge %s: %w", iter.Val(), err)
			}
			total += n
		}
		if err := iter.Err(); err != nil {
			return total, fmt.Errorf("failed to scan %s keys: %w", prefix, err)
		}
	}
	return total, nil
}
