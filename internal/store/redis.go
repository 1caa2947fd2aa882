// Package store keeps the latest track per CoT uid, the inbound event
// stream and camera snapshots in Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"fusion-svr/internal/cot"
	"fusion-svr/internal/observability"
	"fusion-svr/internal/registry"
)

const (
	EventStream = "cot:events"

	trackPrefix  = "track:"
	cameraPrefix = "camera:"

	defaultStreamMaxLen     = 10000
	defaultFailureThreshold = 5
	defaultOpenTimeout      = 30 * time.Second
)

var ErrNotFound = errors.New("store: not found")

type Options struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int // -1 disables go-redis retries

	StreamMaxLen     int64
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Logger           *slog.Logger
}

// RedisStore wraps every command in a circuit breaker so a Redis outage
// fails fast instead of stalling event dispatch.
type RedisStore struct {
	rdb    *redis.Client
	cb     *gobreaker.CircuitBreaker[any]
	maxLen int64
	logger *slog.Logger
}

func NewRedisStore(opts Options) *RedisStore {
	if opts.StreamMaxLen <= 0 {
		opts.StreamMaxLen = defaultStreamMaxLen
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "store")

	s := &RedisStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:       opts.Addr,
			Password:   opts.Password,
			DB:         opts.DB,
			MaxRetries: opts.MaxRetries,
		}),
		maxLen: opts.StreamMaxLen,
		logger: logger,
	}
	s.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// BreakerState reports the breaker state as closed, half-open or open.
func (s *RedisStore) BreakerState() string { return s.cb.State().String() }

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.do("ping", func() error {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	})
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) do(op string, fn func() error) error {
	_, err := s.cb.Execute(func() (any, error) { return nil, fn() })
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.StoreErrors.WithLabelValues(op).Inc()
	}
	return err
}

// -------------------------------------------------------------------
//                             TRACKS
// -------------------------------------------------------------------

// SaveTrack stores ev as the latest track of its uid. The key expires when
// the event goes stale; events that are already stale are skipped.
func (s *RedisStore) SaveTrack(ctx context.Context, ev cot.Event) error {
	ttl := time.Until(ev.Stale)
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: encode track %s: %w", ev.UID, err)
	}
	return s.do("save_track", func() error {
		return s.rdb.Set(ctx, trackPrefix+ev.UID, b, ttl).Err()
	})
}

func (s *RedisStore) Track(ctx context.Context, uid string) (*cot.Event, error) {
	var raw []byte
	err := s.do("get_track", func() error {
		var err error
		raw, err = s.rdb.Get(ctx, trackPrefix+uid).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ev cot.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("store: decode track %s: %w", uid, err)
	}
	return &ev, nil
}

// Tracks fetches the tracks of uids in one round trip. Missing or expired
// uids are left out of the result.
func (s *RedisStore) Tracks(ctx context.Context, uids []string) (map[string]cot.Event, error) {
	out := make(map[string]cot.Event, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	keys := make([]string, len(uids))
	for i, uid := range uids {
		keys[i] = trackPrefix + uid
	}

	var vals []any
	err := s.do("get_tracks", func() error {
		var err error
		vals, err = s.rdb.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var ev cot.Event
		if err := json.Unmarshal([]byte(str), &ev); err != nil {
			s.logger.Warn("skipping undecodable track", "uid", uids[i], "err", err)
			continue
		}
		out[uids[i]] = ev
	}
	return out, nil
}

// PublishEvent appends ev to the capped event stream for downstream
// consumers.
func (s *RedisStore) PublishEvent(ctx context.Context, ev cot.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("store: encode event %s: %w", ev.UID, err)
	}
	return s.do("publish_event", func() error {
		return s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: EventStream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: map[string]any{"uid": ev.UID, "type": ev.Type, "event": string(b)},
		}).Err()
	})
}

// -------------------------------------------------------------------
//                             CAMERAS
// -------------------------------------------------------------------

func (s *RedisStore) SaveCamera(ctx context.Context, c registry.Camera) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: encode camera %s: %w", c.ID, err)
	}
	return s.do("save_camera", func() error {
		return s.rdb.Set(ctx, cameraPrefix+c.ID, b, 0).Err()
	})
}

func (s *RedisStore) DeleteCamera(ctx context.Context, id string) error {
	return s.do("delete_camera", func() error {
		return s.rdb.Del(ctx, cameraPrefix+id).Err()
	})
}

func (s *RedisStore) Camera(ctx context.Context, id string) (*registry.Camera, error) {
	var raw []byte
	err := s.do("get_camera", func() error {
		var err error
		raw, err = s.rdb.Get(ctx, cameraPrefix+id).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var c registry.Camera
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("store: decode camera %s: %w", id, err)
	}
	return &c, nil
}
