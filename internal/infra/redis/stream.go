package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/chainrelay/internal/core/domain"
)

// DefaultDedupTTL is how long a delivered fingerprint is remembered. It must
// outlast any redelivery window: a resume re-sends at most the blocks after
// the last committed cursor.
const DefaultDedupTTL = 7 * 24 * time.Hour

// appendOnce claims the fingerprint key and appends to the stream in one
// atomic step. KEYS: seen key, stream. ARGV: ttl seconds, maxlen, then
// field/value pairs. Returns 1 when appended, 0 for a duplicate.
var appendOnce = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[1]) then
  return 0
end
local args = {'XADD', KEYS[2]}
if tonumber(ARGV[2]) > 0 then
  table.insert(args, 'MAXLEN')
  table.insert(args, '~')
  table.insert(args, ARGV[2])
end
table.insert(args, '*')
for i = 3, #ARGV do
  table.insert(args, ARGV[i])
end
redis.call(unpack(args))
return 1
`)

// StreamRepo appends events to a Redis stream, once per fingerprint.
type StreamRepo struct {
	client   *Client
	stream   string
	maxLen   int64
	dedupTTL time.Duration
}

// NewStreamRepo creates a stream writer. maxLen caps the stream length
// approximately; zero leaves it unbounded. dedupTTL zero uses
// DefaultDedupTTL.
func NewStreamRepo(client *Client, stream string, maxLen int64, dedupTTL time.Duration) *StreamRepo {
	if dedupTTL <= 0 {
		dedupTTL = DefaultDedupTTL
	}
	return &StreamRepo{client: client, stream: stream, maxLen: maxLen, dedupTTL: dedupTTL}
}

func streamValues(event *domain.Event) (map[string]any, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return map[string]any{
		"kind":        string(event.Kind),
		"slot":        strconv.FormatUint(event.Context.Slot, 10),
		"fingerprint": event.Fingerprint,
		"payload":     string(body),
	}, nil
}

// Insert appends one event unless its fingerprint was already appended.
// The event must carry a fingerprint.
func (s *StreamRepo) Insert(ctx context.Context, event *domain.Event) error {
	if event.Fingerprint == "" {
		return fmt.Errorf("event at slot %d has no fingerprint", event.Context.Slot)
	}
	values, err := streamValues(event)
	if err != nil {
		return err
	}

	ttl := int64(s.dedupTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	argv := []any{ttl, s.maxLen}
	for _, field := range []string{"kind", "slot", "fingerprint", "payload"} {
		argv = append(argv, field, values[field])
	}

	keys := []string{seenKey(s.stream, event.Fingerprint), s.stream}
	appended, err := appendOnce.Run(ctx, s.client.rdb, keys, argv...).Int()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	if appended == 0 {
		s.client.logger.Debug("Skipping duplicate event", "stream", s.stream, "fingerprint", event.Fingerprint)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *StreamRepo) Close() error {
	return nil
}
