package db

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gomodule/redigo/redis"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"

	"github.com/luno/spantree/api"
)

const channelPrefix = "spantree.link."

// Channel is the pub/sub channel a server listens for relayed messages on.
func Channel(server string) string {
	return channelPrefix + strings.ToLower(server)
}

func encodeMessage(m api.Message) ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "encode message")
}

func decodeMessage(b []byte) (api.Message, error) {
	var m api.Message
	err := json.Unmarshal(b, &m)
	if err != nil {
		return api.Message{}, errors.Wrap(err, "decode message")
	}
	if m.Kind == "" || m.Dest == "" {
		return api.Message{}, errors.New("incomplete message", j.MKV{"kind": m.Kind, "dest": m.Dest})
	}
	return m, nil
}

// Publish relays m to the server listening on hop's channel. It fails when
// nobody is subscribed, since the message would be lost.
func Publish(ctx context.Context, conn redis.Conn, hop string, m api.Message) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	n, err := redis.Int(redis.DoContext(conn, ctx, "PUBLISH", Channel(hop), b))
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	if n == 0 {
		return errors.New("no subscriber", j.KV("hop", hop))
	}
	return nil
}

type HandleMessageFunc func(context.Context, api.Message) error

// Subscribe reads messages relayed to server until ctx is done or the
// connection fails.
func Subscribe(ctx context.Context, conn redis.Conn, server string, f HandleMessageFunc) error {
	psc := redis.PubSubConn{Conn: conn}
	if err := psc.Subscribe(Channel(server)); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	defer func() {
		_ = psc.Unsubscribe()
	}()
	for {
		switch v := psc.ReceiveContext(ctx).(type) {
		case redis.Message:
			m, err := decodeMessage(v.Data)
			if err != nil {
				log.Error(ctx, errors.Wrap(err, "skipped relay message", j.KV("channel", v.Channel)))
				continue
			}
			if err := f(ctx, m); err != nil {
				return err
			}
		case redis.Subscription:
			log.Info(ctx, "relay subscription", j.MKV{"channel": v.Channel, "kind": v.Kind})
		case error:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(v, "receive")
		}
	}
}
