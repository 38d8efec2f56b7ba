// Copyright (c) 2026, The fleetman Authors

// Package pool owns the sessions to managed servers. A command works through
// a Scoped lease; everything dialed through the lease is closed on Release
// unless it was explicitly stolen.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"fleetman.io/fleetman/internal/conn"
	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/mysql"
)

var ErrReleased = errors.New("pool scope already released")

type Credentials struct {
	User     string
	Password string
}

// MetadataClient is the part of the metadata the pool relies on.
type MetadataClient interface {
	PrimaryEndpoint(ctx context.Context) (string, error)
	IsMember(ctx context.Context, endpoint string) (bool, error)
}

// NotManagedError is returned by a checked connect to a server the metadata
// does not know.
type NotManagedError struct {
	Endpoint string
}

func (e *NotManagedError) Error() string {
	return fmt.Sprintf("%s does not belong to the cluster", e.Endpoint)
}

type Pool struct {
	dialer mysql.Dialer
	hl     *fmlog.Logger

	mu     sync.Mutex
	leases int
}

func New(dialer mysql.Dialer, hl *fmlog.Logger) *Pool {
	return &Pool{dialer: dialer, hl: hl}
}

// Leases is the number of scopes acquired and not released yet.
func (p *Pool) Leases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leases
}

// Acquire opens a scope bound to the primary the metadata currently believes
// in. Scopes are not safe for concurrent use.
func (p *Pool) Acquire(ctx context.Context, md MetadataClient, interactive bool, creds Credentials) (*Scoped, error) {
	primary, err := md.PrimaryEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.leases++
	p.mu.Unlock()
	p.hl.Debugf("acquired pool scope, primary %s", primary)
	return &Scoped{
		pool:        p,
		md:          md,
		interactive: interactive,
		creds:       creds,
		primary:     primary,
	}, nil
}

type Scoped struct {
	pool        *Pool
	md          MetadataClient
	interactive bool
	creds       Credentials
	primary     string
	owned       []*Instance
	released    bool
}

func (s *Scoped) Primary() string {
	return s.primary
}

func (s *Scoped) Interactive() bool {
	return s.interactive
}

func (s *Scoped) Metadata() MetadataClient {
	return s.md
}

// ConnectPrimary connects to the primary the scope is bound to.
func (s *Scoped) ConnectPrimary(ctx context.Context) (*Instance, error) {
	return s.ConnectUnchecked(ctx, s.primary)
}

// Connect connects to a server, which must be a managed member.
func (s *Scoped) Connect(ctx context.Context, endpoint string) (*Instance, error) {
	if s.released {
		return nil, ErrReleased
	}
	ok, err := s.md.IsMember(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotManagedError{Endpoint: endpoint}
	}
	return s.ConnectUnchecked(ctx, endpoint)
}

// ConnectUnchecked connects to any server. The scope keeps at most one
// session per server and hands it out again on later calls.
func (s *Scoped) ConnectUnchecked(ctx context.Context, endpoint string) (*Instance, error) {
	if s.released {
		return nil, ErrReleased
	}
	d, err := conn.ValidateEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return s.ConnectDescriptor(ctx, d)
}

// ConnectDescriptor is ConnectUnchecked for a validated descriptor; the
// scope credentials fill whatever the descriptor lacks.
func (s *Scoped) ConnectDescriptor(ctx context.Context, d conn.Descriptor) (*Instance, error) {
	if s.released {
		return nil, ErrReleased
	}
	for _, i := range s.owned {
		if i.desc.SameServer(d) {
			return i, nil
		}
	}
	d = d.WithCredentials(s.creds.User, s.creds.Password)
	srv, err := s.pool.dialer.Dial(ctx, d)
	if err != nil {
		return nil, err
	}
	s.pool.hl.Debugf("connected to %s", d.Endpoint())
	i := &Instance{Server: srv, desc: d, scope: s}
	s.owned = append(s.owned, i)
	return i, nil
}

// Owned lists the endpoints of sessions the scope will close on release.
func (s *Scoped) Owned() []string {
	eps := make([]string, 0, len(s.owned))
	for _, i := range s.owned {
		eps = append(eps, i.Endpoint())
	}
	return eps
}

// Release closes every session still owned by the scope. Calling it again
// is a no-op.
func (s *Scoped) Release() {
	if s.released {
		return
	}
	s.released = true
	for _, i := range s.owned {
		i.scope = nil
		if err := i.Server.Close(); err != nil {
			s.pool.hl.Warnf("failed to close session to %s: %v", i.Endpoint(), err)
		}
	}
	s.owned = nil
	s.pool.mu.Lock()
	s.pool.leases--
	s.pool.mu.Unlock()
	s.pool.hl.Debugf("released pool scope, primary %s", s.primary)
}

func (s *Scoped) disown(i *Instance) {
	for n, o := range s.owned {
		if o == i {
			s.owned = append(s.owned[:n], s.owned[n+1:]...)
			return
		}
	}
}

// Instance is a session obtained from a scope.
type Instance struct {
	mysql.Server
	desc  conn.Descriptor
	scope *Scoped
}

func (i *Instance) Descriptor() conn.Descriptor {
	return i.desc
}

// Steal takes the session away from its scope: releasing the scope no
// longer closes it and closing it becomes the caller's job.
func (i *Instance) Steal() *Instance {
	if i.scope != nil {
		i.scope.disown(i)
		i.scope = nil
	}
	return i
}

func (i *Instance) Owned() bool {
	return i.scope != nil
}
