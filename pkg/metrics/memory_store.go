package metrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

type journeyCounters struct {
	counters      map[string]int64
	nodeCounters  map[string]map[string]int64
	totalDuration time.Duration
	completions   int64
}

// MemoryStore keeps counters in process memory. Suitable for tests and
// single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	journeys map[string]*journeyCounters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{journeys: make(map[string]*journeyCounters)}
}

func (s *MemoryStore) Increment(_ context.Context, journeyID, counter string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journey(journeyID).counters[counter] += delta

	return nil
}

func (s *MemoryStore) NodeIncrement(_ context.Context, journeyID, nodeID, counter string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.journey(journeyID)

	node, ok := j.nodeCounters[nodeID]
	if !ok {
		node = make(map[string]int64)
		j.nodeCounters[nodeID] = node
	}

	node[counter] += delta

	return nil
}

func (s *MemoryStore) RecordCompletion(_ context.Context, journeyID string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.journey(journeyID)
	j.totalDuration += duration
	j.completions++

	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, journeyID string) (*JourneyMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := s.journey(journeyID)

	snapshot := &JourneyMetrics{
		JourneyID:       journeyID,
		Entered:         j.counters[CounterEntered],
		Completed:       j.counters[CounterCompleted],
		Exited:          j.counters[CounterExited],
		Failed:          j.counters[CounterFailed],
		Delivered:       j.counters[CounterDelivered],
		CompletionCount: j.completions,
	}

	if j.completions > 0 {
		snapshot.MeanCompletion = j.totalDuration / time.Duration(j.completions)
	}

	nodeIDs := make([]string, 0, len(j.nodeCounters))
	for nodeID := range j.nodeCounters {
		nodeIDs = append(nodeIDs, nodeID)
	}

	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		snapshot.Nodes = append(snapshot.Nodes, NodeMetrics{
			NodeID:    nodeID,
			Entered:   j.nodeCounters[nodeID][CounterEntered],
			Delivered: j.nodeCounters[nodeID][CounterDelivered],
		})
	}

	return snapshot, nil
}

func (s *MemoryStore) journey(journeyID string) *journeyCounters {
	j, ok := s.journeys[journeyID]
	if !ok {
		j = &journeyCounters{
			counters:     make(map[string]int64),
			nodeCounters: make(map[string]map[string]int64),
		}
		s.journeys[journeyID] = j
	}

	return j
}
