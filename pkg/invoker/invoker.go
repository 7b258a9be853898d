package invoker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bosunhq/bosun/pkg/engine"
	"github.com/bosunhq/bosun/pkg/inventory"
	"github.com/bosunhq/bosun/pkg/transports/ssh"
)

// RemoteFactory builds the transport for one endpoint. The CLI wires the SSH
// client here; tests wire fakes.
type RemoteFactory func(ep inventory.Endpoint) (ssh.Remote, error)

// SSHFactory builds real SSH clients from endpoint definitions, layered on a
// base config for defaults the inventory does not carry.
func SSHFactory(base *ssh.Config) RemoteFactory {
	return func(ep inventory.Endpoint) (ssh.Remote, error) {
		cfg := *base
		cfg.Host = ep.Host
		if ep.Port != 0 {
			cfg.Port = ep.Port
		}
		if ep.User != "" {
			cfg.User = ep.User
		}
		if ep.KeyPath != "" {
			cfg.PrivateKeyPath = ep.KeyPath
		}
		return ssh.NewClient(&cfg)
	}
}

// GroupInvoker implements engine.ActionInvoker for one host group: every
// invocation runs the action on each group member in order. Group members
// are peers; an action that fails on any member fails the invocation.
type GroupInvoker struct {
	group    *inventory.Group
	registry *Registry
	factory  RemoteFactory

	mu      sync.Mutex
	remotes map[string]ssh.Remote
}

// NewGroupInvoker creates an invoker for a group. Connections open lazily on
// first use and are reused for the rest of the run.
func NewGroupInvoker(group *inventory.Group, registry *Registry, factory RemoteFactory) *GroupInvoker {
	return &GroupInvoker{
		group:    group,
		registry: registry,
		factory:  factory,
		remotes:  make(map[string]ssh.Remote),
	}
}

func (g *GroupInvoker) remote(ctx context.Context, ep inventory.Endpoint) (ssh.Remote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	addr := ep.Address()
	if r, ok := g.remotes[addr]; ok {
		return r, nil
	}
	r, err := g.factory(ep)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", addr, err)
	}
	if err := r.Connect(ctx); err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", addr, err)
	}
	g.remotes[addr] = r
	return r, nil
}

// Invoke runs the action on every endpoint of the group. The aggregate result
// is changed when any member changed; the payload maps endpoint address to
// the member payload when the group has more than one member.
func (g *GroupInvoker) Invoke(ctx context.Context, actionRef string, params map[string]engine.Value) (*engine.Result, error) {
	action, err := g.registry.Get(actionRef)
	if err != nil {
		return nil, err
	}

	changed := false
	payloads := make(map[string]engine.Value, len(g.group.Hosts))
	var raw []string

	for _, ep := range g.group.Hosts {
		remote, err := g.remote(ctx, ep)
		if err != nil {
			return nil, err
		}

		log.Debug().
			Str("action", actionRef).
			Str("group", g.group.Name).
			Str("endpoint", ep.Address()).
			Msg("invoking action")

		res, err := action.Run(ctx, remote, Params(params))
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Address(), err)
		}
		changed = changed || res.Changed
		if !res.Payload.IsNull() {
			payloads[ep.Address()] = res.Payload
		}
		if res.RawOutput != "" {
			if len(g.group.Hosts) > 1 {
				raw = append(raw, fmt.Sprintf("[%s] %s", ep.Address(), res.RawOutput))
			} else {
				raw = append(raw, res.RawOutput)
			}
		}

		if res.Status != engine.StatusSuccess {
			// First failing member fails the whole invocation; its
			// diagnostics win.
			failed := *res
			failed.Changed = changed
			failed.RawOutput = fmt.Sprintf("[%s] %s", ep.Address(), res.RawOutput)
			return &failed, nil
		}
	}

	out := &engine.Result{
		Status:    engine.StatusSuccess,
		Changed:   changed,
		RawOutput: strings.Join(raw, "\n"),
	}
	switch len(g.group.Hosts) {
	case 1:
		if p, ok := payloads[g.group.Hosts[0].Address()]; ok {
			out.Payload = p
		}
	default:
		if len(payloads) > 0 {
			out.Payload = engine.Map(payloads)
		}
	}
	return out, nil
}

// Close tears down every open connection.
func (g *GroupInvoker) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for addr, r := range g.remotes {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("endpoint %s: %w", addr, err)
		}
		delete(g.remotes, addr)
	}
	return firstErr
}
