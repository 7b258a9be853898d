package inventory

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bosunhq/bosun/pkg/engine"
)

// Dialer attempts one probe connection to an endpoint address. The SSH
// transport supplies an implementation that performs a full handshake; the
// default checks TCP connectivity only.
type Dialer interface {
	Dial(ctx context.Context, address string) error
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) error

func (f DialerFunc) Dial(ctx context.Context, address string) error {
	return f(ctx, address)
}

// TCPDialer probes by opening and immediately closing a TCP connection.
func TCPDialer(timeout time.Duration) Dialer {
	return DialerFunc(func(ctx context.Context, address string) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

// ProbeConfig bounds reachability probing. Like action retries, probe delay
// is fixed between attempts.
type ProbeConfig struct {
	// Attempts is the probe bound per endpoint.
	Attempts int

	// Delay is the fixed wait between probe attempts.
	Delay time.Duration
}

// DefaultProbeConfig matches interactive expectations: three quick attempts.
var DefaultProbeConfig = ProbeConfig{Attempts: 3, Delay: 2 * time.Second}

// endpointState caches one endpoint's probe outcome. Groups may share
// endpoints, and groups run concurrently, so each endpoint's state carries
// its own mutex: the first group to reach an endpoint probes it, later
// groups reuse the verdict.
type endpointState struct {
	mu     sync.Mutex
	probed bool
	err    error
}

// StatusBoard tracks probe outcomes across all endpoints of a run.
type StatusBoard struct {
	mu      sync.Mutex
	entries map[string]*endpointState
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{entries: make(map[string]*endpointState)}
}

func (b *StatusBoard) state(address string) *endpointState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.entries[address]
	if !ok {
		st = &endpointState{}
		b.entries[address] = st
	}
	return st
}

// Prober verifies one group's endpoints, implementing the engine's
// reachability boundary.
type Prober struct {
	group  *Group
	dialer Dialer
	board  *StatusBoard
	cfg    ProbeConfig

	// sleep is injected for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProber creates a prober for a group. The board may be shared across
// groups of the same run; a nil board gets a private one.
func NewProber(group *Group, dialer Dialer, board *StatusBoard, cfg ProbeConfig) *Prober {
	if board == nil {
		board = NewStatusBoard()
	}
	if cfg.Attempts <= 0 {
		cfg = DefaultProbeConfig
	}
	return &Prober{group: group, dialer: dialer, board: board, cfg: cfg, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe checks every endpoint in the group, returning
// *engine.UnreachableHostError for the first endpoint whose retries run out.
// One unreachable member makes the whole group unreachable: a partial group
// cannot satisfy its task list.
func (p *Prober) Probe(ctx context.Context) error {
	for _, ep := range p.group.Hosts {
		if err := p.probeEndpoint(ctx, ep.Address()); err != nil {
			return &engine.UnreachableHostError{
				Group:    p.group.Name,
				Address:  ep.Address(),
				Attempts: p.cfg.Attempts,
				Err:      err,
			}
		}
	}
	return nil
}

func (p *Prober) probeEndpoint(ctx context.Context, address string) error {
	st := p.board.state(address)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.probed {
		return st.err
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		lastErr = p.dialer.Dial(ctx, address)
		if lastErr == nil {
			break
		}
		log.Debug().
			Str("address", address).
			Str("group", p.group.Name).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("reachability probe failed")
		if attempt == p.cfg.Attempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.Delay); err != nil {
			lastErr = err
			break
		}
	}

	st.probed = true
	st.err = lastErr
	return lastErr
}
