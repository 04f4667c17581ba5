package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"
)

// LAN is a PeerTransport for nodes that already share an IP network (the
// device address discovered over mDNS is the peer's IP). There is no link
// to negotiate, so a link is "formed" as soon as the peer answers on its
// relay port.
type LAN struct {
	port        int
	dialTimeout time.Duration
	rediscover  func()

	mu     sync.Mutex
	target string
	formed bool
}

// NewLAN creates a LAN transport probing peers on the relay port.
// rediscover, when non-nil, is invoked by DiscoverPeers.
func NewLAN(port int, rediscover func()) *LAN {
	return &LAN{
		port:        port,
		dialTimeout: 2 * time.Second,
		rediscover:  rediscover,
	}
}

// Connect checks that the peer accepts connections on the relay port.
func (l *LAN) Connect(ctx context.Context, address string, intent int) error {
	host := address
	if h, _, err := net.SplitHostPort(address); err == nil {
		host = h
	}
	if net.ParseIP(host) == nil {
		return &Error{Op: "connect", Code: CodeUnsupported}
	}

	d := net.Dialer{Timeout: l.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(l.port)))
	if err != nil {
		return &Error{Op: "connect", Code: CodeBusy}
	}
	conn.Close()

	l.mu.Lock()
	l.target = host
	l.formed = true
	l.mu.Unlock()
	return nil
}

// Disconnect forgets the current peer. With no peer it reports the
// platform's "nothing to remove" failure.
func (l *LAN) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.formed {
		return &Error{Op: "remove group", Code: CodeInternalError}
	}
	l.target = ""
	l.formed = false
	return nil
}

// LinkInfo reports the peer as the link authority.
func (l *LAN) LinkInfo(ctx context.Context) (*LinkInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.target == "" {
		return nil, nil
	}
	return &LinkInfo{Formed: l.formed, OwnerAddress: l.target}, nil
}

// GroupMembers is never consulted on LAN links since the local node never
// becomes the authority.
func (l *LAN) GroupMembers(ctx context.Context) ([]Device, error) {
	return nil, nil
}

// DiscoverPeers triggers a discovery refresh.
func (l *LAN) DiscoverPeers(ctx context.Context) error {
	if l.rediscover != nil {
		go l.rediscover()
	}
	return nil
}
