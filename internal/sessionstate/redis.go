package sessionstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaspardpetit/plannerbridge/internal/logx"
)

const (
	keyPrefix = "plannerbridge:state"
	// EventsChannel receives every stored State as JSON.
	EventsChannel = "plannerbridge:state:events"

	// OpTimeout bounds each Redis round trip made by a RedisStore.
	OpTimeout = 2 * time.Second
)

// RedisStore implements Store backed by a Redis instance so several bridge
// processes can be observed from one place.
type RedisStore struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// Key returns the Redis key holding the state of client id.
func Key(id string) string {
	if id == "" {
		return keyPrefix
	}
	return keyPrefix + ":" + id
}

// NewRedisStore connects to the given Redis URL and returns a Store for
// client id. The key is initialized to a not-ready state if missing.
func NewRedisStore(addr, id string) (*RedisStore, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(withTimeouts(opts, OpTimeout))
	rs := &RedisStore{client: c, key: Key(id), timeout: OpTimeout}
	ctx, cancel := rs.opContext()
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	b, _ := json.Marshal(State{Status: StatusNotReady, ClientID: id})
	_ = c.SetNX(ctx, rs.key, b, 0).Err()
	return rs, nil
}

// withTimeouts makes every command honor its context deadline and keeps
// retries short so an unreachable Redis fails within a few multiples of d.
func withTimeouts(opts *redis.UniversalOptions, d time.Duration) *redis.UniversalOptions {
	opts.DialTimeout = d
	opts.ContextTimeoutEnabled = true
	opts.MaxRetries = 1
	return opts
}

// parseRedisURL parses addr into UniversalOptions supporting single and
// sentinel deployments. Without a scheme addr is a plain host:port.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	switch u.Scheme {
	case "redis", "rediss":
		db := q.Get("db")
		if p := strings.TrimPrefix(u.Path, "/"); p != "" {
			db = p
		}
		if opts.DB, err = parseDB(db); err != nil {
			return nil, err
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if opts.MasterName == "" {
			return nil, errors.New("redis: sentinel URL needs a master name")
		}
		if opts.DB, err = parseDB(q.Get("db")); err != nil {
			return nil, err
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}
	return opts, nil
}

func parseDB(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	db, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("redis: invalid db: %v", err)
	}
	return db, nil
}

func (r *RedisStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

// Load returns the stored state; unreadable state is reported as unknown.
func (r *RedisStore) Load() State {
	ctx, cancel := r.opContext()
	defer cancel()
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{Status: StatusNotReady}
		}
		return State{Status: "unknown", LastError: err.Error()}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: "unknown"}
	}
	return st
}

// Store writes s and publishes it on EventsChannel.
func (r *RedisStore) Store(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ctx, cancel := r.opContext()
	defer cancel()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key, b, 0)
	pipe.Publish(ctx, EventsChannel, b)
	if _, err := pipe.Exec(ctx); err != nil {
		logx.Log.Warn().Err(err).Str("key", r.key).Msg("redis state store failed")
	}
}

// Close releases the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
