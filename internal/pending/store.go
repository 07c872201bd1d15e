// Package pending provides the durable store for pending notifications.
// Records live in Redis: one JSON document per rule holding a monotonically
// increasing version, plus a fixed number of shard indexes keyed by
// first_seen_at so the dispatcher reads with bounded range queries instead
// of one global scan. All writes go through Lua scripts so the version
// check and the write are atomic.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// DefaultNumShards is the default shard count for the first_seen_at index.
const DefaultNumShards = 5

const (
	ruleKeyPrefix  = "pending:rule:"
	shardKeyPrefix = "pending:shard:"
)

// upsertScript writes a pending record only if the stored version matches the
// expected one. Expected version 0 means the record must not exist yet, and
// the rule is added to its shard index with the record's first_seen_at score.
// Returns the new version, or -1 on a version conflict.
var upsertScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local expected = tonumber(ARGV[1])
if not current then
	if expected ~= 0 then
		return -1
	end
	redis.call('SET', KEYS[1], ARGV[2])
	redis.call('ZADD', KEYS[2], tonumber(ARGV[4]), ARGV[3])
	return 1
end
if tonumber(cjson.decode(current).version) ~= expected then
	return -1
end
redis.call('SET', KEYS[1], ARGV[2])
return tonumber(cjson.decode(ARGV[2]).version)
`)

// deleteScript removes a pending record only if the stored version matches.
// An absent record is a successful no-op so overlapping dispatcher passes are
// safe. Returns -1 when the record exists but the version moved, meaning a
// merge landed after the caller read the record.
var deleteScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	redis.call('ZREM', KEYS[2], ARGV[2])
	return 1
end
if tonumber(cjson.decode(current).version) ~= tonumber(ARGV[1]) then
	return -1
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[2])
return 1
`)

// Store provides conditional access to pending notifications.
type Store struct {
	client    *redis.Client
	numShards int
}

// NewStore creates a pending store with the given shard count.
// Shard count is a tunable; values <= 0 use the default.
func NewStore(client *redis.Client, numShards int) *Store {
	if numShards <= 0 {
		numShards = DefaultNumShards
	}
	return &Store{
		client:    client,
		numShards: numShards,
	}
}

// NumShards returns the configured shard count.
func (s *Store) NumShards() int {
	return s.numShards
}

// Shard returns the deterministic shard index for a rule.
func (s *Store) Shard(ruleID string) int {
	h := fnv.New32a()
	h.Write([]byte(ruleID))
	return int(h.Sum32()) % s.numShards
}

func (s *Store) ruleKey(ruleID string) string {
	return ruleKeyPrefix + ruleID
}

func (s *Store) shardKey(shard int) string {
	return shardKeyPrefix + strconv.Itoa(shard)
}

// Get reads the pending notification for a rule.
// Returns model.ErrNotFound if no entry exists.
func (s *Store) Get(ctx context.Context, ruleID string) (*model.PendingNotification, error) {
	raw, err := s.client.Get(ctx, s.ruleKey(ruleID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: pending notification for rule %s", model.ErrNotFound, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending notification for rule %s: %w", ruleID, err)
	}

	var p model.PendingNotification
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode pending notification for rule %s: %w", ruleID, err)
	}
	return &p, nil
}

// ConditionalUpsert writes the record if the stored version still equals
// expectedVersion (0 = must not exist). Only on success is the record's
// Version set to expectedVersion+1; a conflicted or failed write leaves the
// caller's record untouched. Returns model.ErrConflict when another writer
// won the race.
func (s *Store) ConditionalUpsert(ctx context.Context, p *model.PendingNotification, expectedVersion int64) error {
	payload, err := encodeWithVersion(p, expectedVersion+1)
	if err != nil {
		return fmt.Errorf("failed to encode pending notification for rule %s: %w", p.RuleID, err)
	}

	keys := []string{s.ruleKey(p.RuleID), s.shardKey(s.Shard(p.RuleID))}
	args := []any{expectedVersion, string(payload), p.RuleID, float64(p.FirstSeenAt.UnixMilli()) / 1000}

	result, err := upsertScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to upsert pending notification for rule %s: %w", p.RuleID, err)
	}
	if result < 0 {
		return fmt.Errorf("%w: pending notification for rule %s changed under us", model.ErrConflict, p.RuleID)
	}

	p.Version = expectedVersion + 1
	return nil
}

// encodeWithVersion serializes the record as it will be stored, carrying the
// to-be-written version, without mutating the caller's copy.
func encodeWithVersion(p *model.PendingNotification, version int64) ([]byte, error) {
	stored := *p
	stored.Version = version
	return json.Marshal(&stored)
}

// ConditionalDelete removes the record if its version still equals
// expectedVersion. A missing record is a no-op. Returns model.ErrConflict
// when the version moved, so the caller leaves the entry for the next pass.
func (s *Store) ConditionalDelete(ctx context.Context, ruleID string, expectedVersion int64) error {
	keys := []string{s.ruleKey(ruleID), s.shardKey(s.Shard(ruleID))}

	result, err := deleteScript.Run(ctx, s.client, keys, expectedVersion, ruleID).Int64()
	if err != nil {
		return fmt.Errorf("failed to delete pending notification for rule %s: %w", ruleID, err)
	}
	if result < 0 {
		return fmt.Errorf("%w: pending notification for rule %s was updated after read", model.ErrConflict, ruleID)
	}
	return nil
}

// QueryShardOlderThan returns the shard's pending notifications with
// first_seen_at at or before the cutoff. Index entries whose record has
// already been deleted are dropped from the index and skipped.
func (s *Store) QueryShardOlderThan(ctx context.Context, shard int, cutoff time.Time) ([]*model.PendingNotification, error) {
	shardKey := s.shardKey(shard)
	maxScore := strconv.FormatFloat(float64(cutoff.UnixMilli())/1000, 'f', 3, 64)

	ruleIDs, err := s.client.ZRangeByScore(ctx, shardKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query shard %d: %w", shard, err)
	}

	notifications := make([]*model.PendingNotification, 0, len(ruleIDs))
	for _, ruleID := range ruleIDs {
		p, err := s.Get(ctx, ruleID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// Stale index entry from a crashed pass; clean it up.
				if zerr := s.client.ZRem(ctx, shardKey, ruleID).Err(); zerr != nil {
					slog.Warn("Failed to remove stale shard index entry",
						"rule_id", ruleID,
						"shard", shard,
						"error", zerr,
					)
				}
				continue
			}
			return nil, err
		}
		notifications = append(notifications, p)
	}

	return notifications, nil
}
