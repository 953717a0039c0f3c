package instrument

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danielpatrickdp/adaptive-partition/go-controller/internal/channel"
)

// MemorySource keeps observations in memory and serves time-range queries.
// MaxPerChannel > 0 bounds each channel's history, dropping the oldest.
type MemorySource struct {
	MaxPerChannel int

	mu   sync.RWMutex
	data map[string][]channel.Observation
}

// NewMemorySource creates an empty source.
func NewMemorySource(maxPerChannel int) *MemorySource {
	return &MemorySource{MaxPerChannel: maxPerChannel, data: make(map[string][]channel.Observation)}
}

// Append stores observations, keeping each channel ordered by timestamp.
func (m *MemorySource) Append(obs ...channel.Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]channel.Observation)
	}
	touched := make(map[string]bool)
	for _, o := range obs {
		m.data[o.ChannelID] = append(m.data[o.ChannelID], o)
		touched[o.ChannelID] = true
	}
	for id := range touched {
		list := m.data[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp.Before(list[j].Timestamp) })
		if m.MaxPerChannel > 0 && len(list) > m.MaxPerChannel {
			list = append([]channel.Observation(nil), list[len(list)-m.MaxPerChannel:]...)
		}
		m.data[id] = list
	}
}

// InsertObservations implements Writer.
func (m *MemorySource) InsertObservations(_ context.Context, obs []channel.Observation) error {
	m.Append(obs...)
	return nil
}

// Query returns a copy of the channel's observations with since <= ts < until.
func (m *MemorySource) Query(_ context.Context, channelID string, since, until time.Time) ([]channel.Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.data[channelID]
	lo := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(since) })
	hi := sort.Search(len(list), func(i int) bool { return !list[i].Timestamp.Before(until) })
	if lo >= hi {
		return nil, nil
	}
	return append([]channel.Observation(nil), list[lo:hi]...), nil
}

// Len returns how many observations are held for a channel.
func (m *MemorySource) Len(channelID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[channelID])
}
