package claims

import (
	"context"

	"tile-curator/internal/logger"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey：集合键名
const DefaultRedisKey = "tilecurator:claims"

// 文档注释：Redis 集合实现
// 背景：多个进程分批处理区域时共享同一占用集合；SADD 的返回值即为原子的首次插入判定。
type Redis struct {
	rc  *redis.Client
	key string
}

func NewRedis(rc *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{rc: rc, key: key}
}

func (s *Redis) Claim(ctx context.Context, qk string) (bool, error) {
	n, err := s.rc.SAdd(ctx, s.key, qk).Result()
	if err != nil {
		logger.L().Error("claims_redis_error", "op", "sadd", "err", err)
		return false, errors.Wrap(err, "claim")
	}
	return n == 1, nil
}

func (s *Redis) Contains(ctx context.Context, qk string) (bool, error) {
	ok, err := s.rc.SIsMember(ctx, s.key, qk).Result()
	if err != nil {
		return false, errors.Wrap(err, "contains")
	}
	return ok, nil
}

func (s *Redis) Len(ctx context.Context) (int, error) {
	n, err := s.rc.SCard(ctx, s.key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "len")
	}
	return int(n), nil
}

// Reset：清空集合，用于重新生成数据集
func (s *Redis) Reset(ctx context.Context) error {
	return errors.Wrap(s.rc.Del(ctx, s.key).Err(), "reset")
}
