package metrics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	journeyKeyFormat = "voyage:metrics:journey:%s"
	nodeKeyFormat    = "voyage:metrics:journey:%s:node:%s"
	nodeSetKeyFormat = "voyage:metrics:journey:%s:nodes"

	fieldTotalDuration = "total_duration_ns"
	fieldCompletions   = "completions"
)

// RedisStore keeps counters in Redis hashes so every worker shares one view.
// HINCRBY is atomic, which keeps concurrent workers from losing updates.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, journeyID, counter string, delta int64) error {
	err := s.client.HIncrBy(ctx, fmt.Sprintf(journeyKeyFormat, journeyID), counter, delta).Err()
	if err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", counter, err)
	}

	return nil
}

func (s *RedisStore) NodeIncrement(ctx context.Context, journeyID, nodeID, counter string, delta int64) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf(nodeSetKeyFormat, journeyID), nodeID)
	pipe.HIncrBy(ctx, fmt.Sprintf(nodeKeyFormat, journeyID, nodeID), counter, delta)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to increment node counter %s: %w", counter, err)
	}

	return nil
}

func (s *RedisStore) RecordCompletion(ctx context.Context, journeyID string, duration time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, fmt.Sprintf(journeyKeyFormat, journeyID), fieldTotalDuration, duration.Nanoseconds())
	pipe.HIncrBy(ctx, fmt.Sprintf(journeyKeyFormat, journeyID), fieldCompletions, 1)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}

	return nil
}

func (s *RedisStore) Snapshot(ctx context.Context, journeyID string) (*JourneyMetrics, error) {
	fields, err := s.client.HGetAll(ctx, fmt.Sprintf(journeyKeyFormat, journeyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journey counters: %w", err)
	}

	snapshot := &JourneyMetrics{
		JourneyID:       journeyID,
		Entered:         parseCounter(fields, CounterEntered),
		Completed:       parseCounter(fields, CounterCompleted),
		Exited:          parseCounter(fields, CounterExited),
		Failed:          parseCounter(fields, CounterFailed),
		Delivered:       parseCounter(fields, CounterDelivered),
		CompletionCount: parseCounter(fields, fieldCompletions),
	}

	if snapshot.CompletionCount > 0 {
		snapshot.MeanCompletion = time.Duration(parseCounter(fields, fieldTotalDuration) / snapshot.CompletionCount)
	}

	nodeIDs, err := s.client.SMembers(ctx, fmt.Sprintf(nodeSetKeyFormat, journeyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node set: %w", err)
	}

	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		nodeFields, err := s.client.HGetAll(ctx, fmt.Sprintf(nodeKeyFormat, journeyID, nodeID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read node counters: %w", err)
		}

		snapshot.Nodes = append(snapshot.Nodes, NodeMetrics{
			NodeID:    nodeID,
			Entered:   parseCounter(nodeFields, CounterEntered),
			Delivered: parseCounter(nodeFields, CounterDelivered),
		})
	}

	return snapshot, nil
}

func parseCounter(fields map[string]string, name string) int64 {
	value, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}

	return value
}
