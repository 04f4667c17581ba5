package transport

import (
	"context"
	"sync"
)

// Fake is a scripted PeerTransport for tests. Each scripted slice is
// consumed one entry per call; once exhausted the last entry repeats (or
// the zero value when the slice is empty).
type Fake struct {
	mu sync.Mutex

	ConnectErrs   []error
	DisconnectErr error
	Links         []*LinkInfo
	Members       [][]Device

	intents         []int
	connectAddrs    []string
	connectCalls    int
	disconnectCalls int
	discoverCalls   int
	linkCalls       int
	memberCalls     int
}

func (f *Fake) Connect(ctx context.Context, address string, intent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, intent)
	f.connectAddrs = append(f.connectAddrs, address)
	err := pick(f.ConnectErrs, f.connectCalls)
	f.connectCalls++
	return err
}

func (f *Fake) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	return f.DisconnectErr
}

func (f *Fake) LinkInfo(ctx context.Context) (*LinkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := pick(f.Links, f.linkCalls)
	f.linkCalls++
	if info == nil {
		return nil, nil
	}
	cp := *info
	return &cp, nil
}

func (f *Fake) GroupMembers(ctx context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := pick(f.Members, f.memberCalls)
	f.memberCalls++
	return m, nil
}

func (f *Fake) DiscoverPeers(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discoverCalls++
	return nil
}

// Intents returns the role hints passed to Connect, in call order.
func (f *Fake) Intents() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.intents...)
}

// ConnectAddrs returns the addresses passed to Connect, in call order.
func (f *Fake) ConnectAddrs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connectAddrs...)
}

// Calls returns per-operation call counts.
func (f *Fake) Calls() (connect, disconnect, discover, link int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.disconnectCalls, f.discoverCalls, f.linkCalls
}

func pick[T any](s []T, i int) T {
	var zero T
	if len(s) == 0 {
		return zero
	}
	if i >= len(s) {
		return s[len(s)-1]
	}
	return s[i]
}
