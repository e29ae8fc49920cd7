package counters

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FakeStore is an in-memory Store used by tests; it does not expire keys
// automatically (Expire is accepted but never acted on) since test cases
// control time explicitly instead of sleeping.
type FakeStore struct {
	mu      sync.Mutex
	ints    map[string]int64
	zsets   map[string]map[string]float64
	hashes  map[string]map[string]int64
	sets    map[string]map[string]bool
	Failing bool // when true, every method returns an error (for fail-open tests)
}

// NewFakeStore returns an empty in-memory counters.Store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		ints:   make(map[string]int64),
		zsets:  make(map[string]map[string]float64),
		hashes: make(map[string]map[string]int64),
		sets:   make(map[string]map[string]bool),
	}
}

var errFakeStoreDown = fakeStoreError("fake counter store unavailable")

type fakeStoreError string

func (e fakeStoreError) Error() string { return string(e) }

func (f *FakeStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	if f.Failing {
		return 0, errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ints[key] += n
	return f.ints[key], nil
}

func (f *FakeStore) Incr(ctx context.Context, key string) (int64, error) {
	return f.IncrBy(ctx, key, 1)
}

func (f *FakeStore) Expire(_ context.Context, _ string, _ time.Duration) error {
	if f.Failing {
		return errFakeStoreDown
	}
	return nil
}

func (f *FakeStore) Get(_ context.Context, key string) (int64, error) {
	if f.Failing {
		return 0, errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ints[key], nil
}

func (f *FakeStore) Set(_ context.Context, key string, value int64, _ time.Duration) error {
	if f.Failing {
		return errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ints[key] = value
	return nil
}

func (f *FakeStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	if f.Failing {
		return errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.zsets[key] == nil {
		f.zsets[key] = make(map[string]float64)
	}
	f.zsets[key][member] = score
	return nil
}

func (f *FakeStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	if f.Failing {
		return errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	z := f.zsets[key]
	for member, score := range z {
		if score >= min && score <= max {
			delete(z, member)
		}
	}
	return nil
}

func (f *FakeStore) ZCard(_ context.Context, key string) (int64, error) {
	if f.Failing {
		return 0, errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.zsets[key])), nil
}

func (f *FakeStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if f.Failing {
		return nil, errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.hashes[key]))
	keys := make([]string, 0, len(f.hashes[key]))
	for k := range f.hashes[key] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = itoa(f.hashes[key][k])
	}
	return out, nil
}

func (f *FakeStore) HIncrBy(_ context.Context, key string, field string, n int64) (int64, error) {
	if f.Failing {
		return 0, errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = make(map[string]int64)
	}
	f.hashes[key][field] += n
	return f.hashes[key][field], nil
}

func (f *FakeStore) SAdd(_ context.Context, key string, _ time.Duration, members ...string) error {
	if f.Failing {
		return errFakeStoreDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = make(map[string]bool)
	}
	for _, m := range members {
		f.sets[key][m] = true
	}
	return nil
}

func (f *FakeStore) Close() error { return nil }

// Members returns the current members of a set, for test assertions. It is
// not part of the Store interface.
func (f *FakeStore) Members(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sets[key]))
	for m := range f.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
