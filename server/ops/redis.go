package ops

import (
	"context"
	"flag"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/api"
	"github.com/luno/spantree/server/db"
)

var redisAddr = flag.String("redis", "redis://127.0.0.1:6379", "Address to connect to the redis server")
var redisUser = flag.String("redis_user", "", "User for authentication to the redis server, requires password")
var redisPassword = flag.String("redis_password", "", "Password for authentication to the redis server")

func NewRedisPool(ctx context.Context) (*redis.Pool, error) {
	if *redisAddr == "" {
		return nil, errors.New("redis not configured")
	}

	log.Info(ctx, "redis database configured", j.KV("address", *redisAddr))

	do := []redis.DialOption{
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
	if *redisUser != "" || *redisPassword != "" {
		if *redisUser == "" || *redisPassword == "" {
			return nil, errors.New("redis username/password misconfiguration")
		}
		do = append(do,
			redis.DialUsername(*redisUser),
			redis.DialPassword(*redisPassword),
		)
	}

	return &redis.Pool{
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, *redisAddr, do...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
		MaxIdle:     3,
		MaxActive:   10,
		IdleTimeout: time.Minute,
		Wait:        true,
	}, nil
}

// RedisRelay passes messages between servers over redis pub/sub, one
// channel per server.
type RedisRelay struct {
	pool *redis.Pool
}

func NewRedisRelay(pool *redis.Pool) RedisRelay {
	return RedisRelay{pool: pool}
}

func (r RedisRelay) publish(ctx context.Context, hop string, m api.Message) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "get redis conn")
	}
	defer conn.Close()
	return db.Publish(ctx, conn, hop, m)
}

// Outbox returns the queue used to send relay messages. The caller runs it.
func (r RedisRelay) Outbox() *Outbox {
	return NewOutbox(r.publish)
}

// ListenForever feeds messages addressed to s into its loop, reconnecting
// after failures.
func (r RedisRelay) ListenForever(ctx context.Context, s *Server) {
	for {
		err := r.listen(ctx, s)
		if errors.Is(err, context.Canceled) {
			return
		} else if err != nil {
			log.Error(ctx, err)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (r RedisRelay) listen(ctx context.Context, s *Server) error {
	// Subscriptions block on receive, so they get their own connection
	// without the pool's read timeout.
	conn, err := redis.DialURLContext(ctx, *redisAddr, redisAuth()...)
	if err != nil {
		return errors.Wrap(err, "dial redis")
	}
	defer conn.Close()
	return db.Subscribe(ctx, conn, s.Name(), s.Receive)
}

func redisAuth() []redis.DialOption {
	if *redisUser == "" || *redisPassword == "" {
		return nil
	}
	return []redis.DialOption{
		redis.DialUsername(*redisUser),
		redis.DialPassword(*redisPassword),
	}
}
