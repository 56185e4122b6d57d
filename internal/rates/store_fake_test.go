package rates

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
)

type memStore struct {
	mu        sync.Mutex
	history   []models.RateHistory
	latest    map[string]models.LatestRate
	failWrite bool
}

func newMemStore() *memStore {
	return &memStore{latest: make(map[string]models.LatestRate)}
}

func (m *memStore) match(base, target string, keep func(time.Time) bool) []models.RateHistory {
	var out []models.RateHistory
	for _, r := range m.history {
		if r.Base == base && r.Target == target && keep(r.Timestamp) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (m *memStore) LatestHistory(_ context.Context, base, target string) (*models.RateHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.match(base, target, func(time.Time) bool { return true })
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[len(rows)-1], nil
}

func (m *memStore) LatestHistoryBetween(_ context.Context, base, target string, from, to time.Time) (*models.RateHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.match(base, target, func(ts time.Time) bool { return !ts.Before(from) && ts.Before(to) })
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[len(rows)-1], nil
}

func (m *memStore) between(base, target string, from, to time.Time) []models.RateHistory {
	return m.match(base, target, func(ts time.Time) bool { return !ts.Before(from) && !ts.After(to) })
}

func (m *memStore) CountHistoryBetween(_ context.Context, base, target string, from, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.between(base, target, from, to))), nil
}

func (m *memStore) ListHistoryBetween(_ context.Context, base, target string, from, to time.Time) ([]models.RateHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.between(base, target, from, to), nil
}

func (m *memStore) AppendHistory(_ context.Context, row *models.RateHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("write failed")
	}
	m.history = append(m.history, *row)
	return nil
}

func (m *memStore) UpsertLatest(_ context.Context, rate *models.LatestRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("write failed")
	}
	m.latest[rate.Base+"/"+rate.Target] = *rate
	return nil
}

func (m *memStore) historyLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

type stubFetcher struct {
	mu    sync.Mutex
	rates []float64
	err   error
	calls []provider.Request
}

func (f *stubFetcher) FetchRate(_ context.Context, req provider.Request) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.rates) == 0 {
		return 1, nil
	}
	v := f.rates[0]
	if len(f.rates) > 1 {
		f.rates = f.rates[1:]
	}
	return v, nil
}

type fixedKey string

func (k fixedKey) Next() string { return string(k) }
