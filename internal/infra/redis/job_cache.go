package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"longform-pipeline/internal/domain/model"
	"longform-pipeline/internal/domain/ports/repository"
	"longform-pipeline/internal/infra/metrics"
)

var _ repository.JobRepository = (*jobRepoCacheDecorator)(nil)

// versionWidth is the fixed-width decimal job version prefixed to every
// snapshot so the write guard can compare without decoding JSON.
const versionWidth = 20

// luaSetIfNewer writes a snapshot only when no snapshot with the same or a
// higher version is stored. Snapshot writes happen after the store commit,
// so two writers can reach Redis in either order.
var luaSetIfNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(string.sub(cur, 1, 20)) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1`)

// jobRepoCacheDecorator serves status polls from Redis. Snapshots are written
// through by the writers only; Get never populates the cache.
type jobRepoCacheDecorator struct {
	inner repository.JobRepository
	cache RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewJobRepoCacheDecorator(inner repository.JobRepository, cache RedisClient, ttl time.Duration, log *zerolog.Logger) repository.JobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &jobRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: log}
}

func jobKey(id string) string { return "job:" + id }

func encodeSnapshot(j *model.Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", versionWidth, j.Version()) + string(b), nil
}

func decodeSnapshot(val string) (*model.Job, error) {
	if len(val) <= versionWidth {
		return nil, errors.New("short snapshot")
	}
	if _, err := strconv.ParseInt(val[:versionWidth], 10, 64); err != nil {
		return nil, fmt.Errorf("snapshot version: %w", err)
	}
	var j model.Job
	if err := json.Unmarshal([]byte(val[versionWidth:]), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (d *jobRepoCacheDecorator) Create(ctx context.Context, job *model.Job) error {
	if err := d.inner.Create(ctx, job); err != nil {
		return err
	}
	d.store(ctx, job)
	return nil
}

func (d *jobRepoCacheDecorator) Get(ctx context.Context, id string) (*model.Job, error) {
	val, err := d.cache.Get(ctx, jobKey(id))
	if err == nil {
		if j, derr := decodeSnapshot(val); derr == nil {
			metrics.IncCacheRequest("job", "hit")
			return j, nil
		}
	} else if !errors.Is(err, Nil) {
		d.log.Warn().Err(err).Str("job_id", id).Msg("job cache read failed")
	}
	metrics.IncCacheRequest("job", "miss")
	return d.inner.Get(ctx, id)
}

// Update bumps the revision inside the inner store's atomic update so that
// snapshot versions follow commit order.
func (d *jobRepoCacheDecorator) Update(ctx context.Context, id string, fn repository.JobMutation) (*model.Job, error) {
	j, err := d.inner.Update(ctx, id, func(j *model.Job) error {
		if err := fn(j); err != nil {
			return err
		}
		j.Revision++
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.store(ctx, j)
	return j, nil
}

func (d *jobRepoCacheDecorator) ClaimNext(ctx context.Context) (*model.Job, error) {
	j, err := d.inner.ClaimNext(ctx)
	if err != nil {
		return nil, err
	}
	d.store(ctx, j)
	return j, nil
}

func (d *jobRepoCacheDecorator) store(ctx context.Context, j *model.Job) {
	val, err := encodeSnapshot(j)
	if err != nil {
		return
	}
	if _, err := d.cache.RunScript(ctx, luaSetIfNewer, []string{jobKey(j.ID)}, j.Version(), val, d.ttl.Milliseconds()); err != nil {
		// drop the possibly stale snapshot so reads fall through to the store
		d.log.Warn().Err(err).Str("job_id", j.ID).Msg("job cache write failed")
		_ = d.cache.Del(ctx, jobKey(j.ID))
	}
}
