// Package rediscache memoizes evaluation responses in Redis in front of any
// evaluator.
package rediscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/awmpietro/policy-flow/internal/flow"
	"github.com/awmpietro/policy-flow/internal/flow/run"
	"github.com/awmpietro/policy-flow/internal/logging"
)

type Evaluator struct {
	next   run.Evaluator
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

type Option func(*Evaluator)

func WithTTL(ttl time.Duration) Option {
	return func(e *Evaluator) {
		e.ttl = ttl
	}
}

func WithPrefix(prefix string) Option {
	return func(e *Evaluator) {
		e.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// New connects to addr and wraps next.
func New(addr string, next run.Evaluator, opts ...Option) *Evaluator {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: addr}), next, opts...)
}

func NewFromClient(client redis.Cmdable, next run.Evaluator, opts ...Option) *Evaluator {
	e := &Evaluator{
		next:   next,
		client: client,
		ttl:    10 * time.Minute,
		prefix: "policyflow:eval:",
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate serves a stored answer when one exists. Only clean boolean
// answers are stored. Redis failures are logged and bypassed.
func (e *Evaluator) Evaluate(ctx context.Context, req flow.Request) (*flow.Response, error) {
	key, err := e.key(req)
	if err != nil {
		return e.next.Evaluate(ctx, req)
	}

	raw, err := e.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached flow.Response
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return &cached, nil
		}
		e.logger.Warn("discarding unreadable cached evaluation", "key", key)
	case !errors.Is(err, redis.Nil):
		e.logger.Warn("evaluation cache read failed", "key", key, "error", err)
	}

	resp, err := e.next.Evaluate(ctx, req)
	if err != nil || resp == nil {
		return resp, err
	}
	if _, ok := resp.Decision(); !ok || resp.Error != "" {
		return resp, nil
	}

	b, err := json.Marshal(resp)
	if err != nil {
		return resp, nil
	}
	if err := e.client.Set(ctx, key, b, e.ttl).Err(); err != nil {
		e.logger.Warn("evaluation cache write failed", "key", key, "error", err)
	}
	return resp, nil
}

// key hashes the rule together with the canonical JSON of the data.
// encoding/json sorts map keys, so equal payloads share a key.
func (e *Evaluator) key(req flow.Request) (string, error) {
	data, err := json.Marshal(req.Data)
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(req.Rule))
	h.Write([]byte{0})
	h.Write(data)
	return e.prefix + hex.EncodeToString(h.Sum(nil)), nil
}
