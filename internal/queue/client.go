package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/docpipe/internal/core"
	"github.com/markdave123-py/docpipe/internal/metrics"
)

var _ core.JobPublisher = (*Client)(nil)

const (
	envelopeField = "envelope"

	defaultBlock        = 2 * time.Second
	defaultClaimMinIdle = 5 * time.Minute
	defaultMaxLen       = 100_000
	promoteBatch        = 100
	pollErrorBackoff    = time.Second
)

// promoteDue moves delayed envelopes whose due time has passed back onto the stream.
// KEYS[1] delayed set, KEYS[2] stream; ARGV[1] now in ms, ARGV[2] limit.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call('XADD', KEYS[2], '*', 'envelope', member)
  redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// Handler processes envelopes delivered by Consume.
//
// Handle returning nil acknowledges the entry. A KindInterrupted error leaves
// it pending for redelivery without spending an attempt. Any other error
// schedules a retry, or calls Exhausted once the policy has no attempts left.
type Handler interface {
	Handle(ctx context.Context, env Envelope) error
	Exhausted(ctx context.Context, env Envelope, err error)
}

// Options configures a Client.
//
// Stream:       stream key; delayed retries live in <Stream>.delayed, dead letters in <Stream>.dead.
// Group:        consumer group, required for Consume.
// Consumer:     consumer name within the group.
// Block:        XREADGROUP block time; zero means 2s, negative means do not block.
// ClaimMinIdle: pending entries idle this long are reclaimed from crashed consumers;
//               live handlers refresh their entry every ClaimMinIdle/3.
// MaxLen:       approximate stream length cap for XADD.
type Options struct {
	Stream       string
	Group        string
	Consumer     string
	Policy       RetryPolicy
	Block        time.Duration
	ClaimMinIdle time.Duration
	MaxLen       int64
	Logger       *log.Logger
	Metrics      *metrics.Metrics
}

// Client publishes to and consumes from one Redis stream.
type Client struct {
	rdb          *redis.Client
	stream       string
	delayed      string
	dead         string
	group        string
	consumer     string
	policy       RetryPolicy
	block        time.Duration
	claimMinIdle time.Duration
	maxLen       int64
	logger       *log.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func New(rdb *redis.Client, opts Options) (*Client, error) {
	if rdb == nil {
		return nil, errors.New("queue: redis client is nil")
	}
	if opts.Stream == "" {
		return nil, errors.New("queue: stream name is required")
	}
	if opts.Policy == (RetryPolicy{}) {
		opts.Policy = DefaultRetryPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	if opts.Block == 0 {
		opts.Block = defaultBlock
	}
	if opts.ClaimMinIdle <= 0 {
		opts.ClaimMinIdle = defaultClaimMinIdle
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultMaxLen
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[QUEUE] ", log.LstdFlags)
	}
	return &Client{
		rdb:          rdb,
		stream:       opts.Stream,
		delayed:      opts.Stream + ".delayed",
		dead:         opts.Stream + ".dead",
		group:        opts.Group,
		consumer:     opts.Consumer,
		policy:       opts.Policy,
		block:        opts.Block,
		claimMinIdle: opts.ClaimMinIdle,
		maxLen:       opts.MaxLen,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          time.Now,
	}, nil
}

func (c *Client) Stream() string           { return c.stream }
func (c *Client) DelayedKey() string       { return c.delayed }
func (c *Client) DeadLetterStream() string { return c.dead }
func (c *Client) Policy() RetryPolicy      { return c.policy }

// EnsureGroup creates the consumer group if it does not exist.
func (c *Client) EnsureGroup(ctx context.Context) error {
	if c.group == "" {
		return errors.New("queue: consumer group is required")
	}
	if err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err(); err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return fmt.Errorf("xgroup create: %w", err)
	}
	return nil
}

// Publish wraps payload in a first-attempt envelope and appends it to the stream.
func (c *Client) Publish(ctx context.Context, eventType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	env := Envelope{
		EventID:        uuid.NewString(),
		EventType:      eventType,
		OccurredAt:     c.now().UTC(),
		Attempt:        1,
		PayloadVersion: PayloadVersion,
		Data:           data,
	}
	raw, err := env.Marshal()
	if err != nil {
		return "", err
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: c.maxLen,
		Approx: true,
		Values: map[string]any{envelopeField: raw},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Consume delivers envelopes to h one at a time until ctx is cancelled.
func (c *Client) Consume(ctx context.Context, h Handler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	c.logger.Printf("Consumer: %s reading %s as group %s", c.consumer, c.stream, c.group)

	for {
		if ctx.Err() != nil {
			c.logger.Printf("Consumer: %s stopping", c.consumer)
			return nil
		}
		if _, err := c.PollOnce(ctx, h); err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Printf("Consumer: poll failed: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(pollErrorBackoff):
			}
		}
	}
}

// PollOnce promotes due retries, then handles at most one entry. Entries
// this consumer left pending come first, then stale entries of other
// consumers, then new ones. It reports whether an entry was handled.
func (c *Client) PollOnce(ctx context.Context, h Handler) (bool, error) {
	if _, err := c.PromoteDue(ctx); err != nil {
		return false, err
	}

	for _, next := range []func(context.Context) (redis.XMessage, bool, error){
		c.readPending, c.reclaim, c.readNew,
	} {
		msg, ok, err := next(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, c.deliver(ctx, h, msg)
		}
	}
	return false, nil
}

// PromoteDue moves retries whose backoff has elapsed back onto the stream.
func (c *Client) PromoteDue(ctx context.Context) (int64, error) {
	n, err := promoteDue.Run(ctx, c.rdb, []string{c.delayed, c.stream},
		c.now().UnixMilli(), promoteBatch).Int64()
	if err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return n, nil
}

func (c *Client) reclaim(ctx context.Context) (redis.XMessage, bool, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return redis.XMessage{}, false, fmt.Errorf("xautoclaim: %w", err)
	}
	if len(msgs) == 0 {
		return redis.XMessage{}, false, nil
	}
	c.logger.Printf("Consumer: reclaimed stale entry %s", msgs[0].ID)
	return msgs[0], true, nil
}

// readPending returns an entry already delivered to this consumer but never
// acknowledged, such as one interrupted by a previous shutdown.
func (c *Client) readPending(ctx context.Context) (redis.XMessage, bool, error) {
	return c.read(ctx, "0", -1)
}

func (c *Client) readNew(ctx context.Context) (redis.XMessage, bool, error) {
	return c.read(ctx, ">", c.block)
}

func (c *Client) read(ctx context.Context, from string, block time.Duration) (redis.XMessage, bool, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, from},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, fmt.Errorf("xreadgroup: %w", err)
	}
	for _, st := range streams {
		if len(st.Messages) > 0 {
			return st.Messages[0], true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

func (c *Client) deliver(ctx context.Context, h Handler, msg redis.XMessage) error {
	raw, env, err := decodeMessage(msg)
	if err != nil {
		c.logger.Printf("Consumer: dropping malformed entry %s: %v", msg.ID, err)
		return c.deadLetter(context.WithoutCancel(ctx), msg.ID, raw, err)
	}

	stop := c.heartbeat(ctx, msg.ID)
	herr := h.Handle(ctx, env)
	stop()

	switch {
	case herr == nil:
		return c.ack(context.WithoutCancel(ctx), msg.ID)

	case core.IsKind(herr, core.KindInterrupted) || ctx.Err() != nil:
		// Left pending; XAUTOCLAIM hands it back after a restart.
		c.logger.Printf("Consumer: %s attempt %d interrupted, leaving entry %s pending", env.EventID, env.Attempt, msg.ID)
		return nil

	case IsPermanent(herr) || c.policy.Exhausted(env.Attempt):
		dctx := context.WithoutCancel(ctx)
		c.logger.Printf("Consumer: %s failed on attempt %d/%d, giving up: %v", env.EventID, env.Attempt, c.policy.Attempts, herr)
		if err := c.deadLetter(dctx, msg.ID, raw, herr); err != nil {
			return err
		}
		h.Exhausted(dctx, env, herr)
		return nil

	default:
		return c.retry(context.WithoutCancel(ctx), msg.ID, env, herr)
	}
}

// heartbeat re-claims id for this consumer every third of ClaimMinIdle
// until stop is called, so a live handler never looks stale to XAUTOCLAIM.
// It outlives ctx cancellation: an interrupted handler still finishes its
// in-flight batch.
func (c *Client) heartbeat(ctx context.Context, id string) (stop func()) {
	interval := c.claimMinIdle / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := c.touch(hctx, id); err != nil && hctx.Err() == nil {
					c.logger.Printf("Consumer: heartbeat for %s failed: %v", id, err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// touch resets the idle time of a pending entry owned by this consumer.
func (c *Client) touch(ctx context.Context, id string) error {
	return c.rdb.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  0,
		Messages: []string{id},
	}).Err()
}

func (c *Client) retry(ctx context.Context, id string, env Envelope, cause error) error {
	delay := c.policy.Backoff(env.Attempt)
	failed := env.Attempt
	env.Attempt++
	raw, err := env.Marshal()
	if err != nil {
		return err
	}
	due := c.now().Add(delay).UnixMilli()

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, c.delayed, redis.Z{Score: float64(due), Member: string(raw)})
		p.XAck(ctx, c.stream, c.group, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	c.metrics.QueueRetry()
	c.logger.Printf("Consumer: %s attempt %d/%d failed, retrying in %s: %v",
		env.EventID, failed, c.policy.Attempts, delay, cause)
	return nil
}

func (c *Client) deadLetter(ctx context.Context, id, raw string, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAdd(ctx, &redis.XAddArgs{
			Stream: c.dead,
			MaxLen: c.maxLen,
			Approx: true,
			Values: map[string]any{
				envelopeField: raw,
				"error":       reason,
				"source_id":   id,
				"failed_at":   strconv.FormatInt(c.now().UnixMilli(), 10),
			},
		})
		p.XAck(ctx, c.stream, c.group, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead letter: %w", err)
	}
	c.metrics.QueueDeadLetter()
	return nil
}

func (c *Client) ack(ctx context.Context, id string) error {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func decodeMessage(msg redis.XMessage) (string, Envelope, error) {
	v, ok := msg.Values[envelopeField]
	if !ok {
		return "", Envelope{}, errors.New("entry has no envelope field")
	}
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		return fmt.Sprint(v), Envelope{}, fmt.Errorf("envelope field has type %T", v)
	}
	env, err := UnmarshalEnvelope([]byte(raw))
	return raw, env, err
}
