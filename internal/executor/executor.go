// Copyright (c) 2026, The fleetman Authors

// Package executor runs administrative operations so that they survive the
// group electing a new primary while they are in progress: the operation is
// moved to the new primary and started over.
package executor

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/metrics"
	"fleetman.io/fleetman/internal/pool"
)

const defaultRelocationReason = "The primary of the cluster changed"

// PrimaryInvalidatedError says the primary changed under an operation.
// Without NewPrimary nothing can be done about it and it is an ordinary
// error.
type PrimaryInvalidatedError struct {
	NewPrimary string
	Reason     string
}

func (e *PrimaryInvalidatedError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = defaultRelocationReason
	}
	if e.NewPrimary == "" {
		return reason + ", new primary is unknown"
	}
	return fmt.Sprintf("%s, new primary is %s", reason, e.NewPrimary)
}

// Result is what a unit of work ends with when it did not fail: either a
// value, or a request to move to a new primary and run again.
type Result[T any] struct {
	value      T
	relocate   bool
	newPrimary string
	reason     string
}

func Done[T any](v T) Result[T] {
	return Result[T]{value: v}
}

func Relocate[T any](newPrimary, reason string) Result[T] {
	if reason == "" {
		reason = defaultRelocationReason
	}
	return Result[T]{relocate: true, newPrimary: newPrimary, reason: reason}
}

func (r Result[T]) Value() T {
	return r.value
}

func (r Result[T]) IsRelocate() bool {
	return r.relocate
}

func (r Result[T]) NewPrimary() string {
	return r.newPrimary
}

// Check turns the usual (value, error) pair into a Result: a
// PrimaryInvalidatedError naming the new primary becomes Relocate, any other
// error stays an error.
func Check[T any](v T, err error) (Result[T], error) {
	if err == nil {
		return Done(v), nil
	}
	var pie *PrimaryInvalidatedError
	if errors.As(err, &pie) && pie.NewPrimary != "" {
		return Relocate[T](pie.NewPrimary, pie.Reason), nil
	}
	return Result[T]{}, err
}

// Work is one logical operation. It may run several times, once per primary
// change, so it must be safe to start over.
type Work[T any] func(ctx context.Context, sp *pool.Scoped) (Result[T], error)

// Metadata is the metadata as the executor sees it.
type Metadata interface {
	pool.MetadataClient
	InvalidateCached()
}

// Topology is rebound to the new primary on relocation.
type Topology interface {
	SetTargetServer(target *pool.Instance)
}

type Executor struct {
	Pool        *pool.Pool
	Metadata    Metadata
	Topology    Topology
	Console     fmlog.Console
	Credentials pool.Credentials
	Interactive bool
	// may be nil
	Metrics *metrics.Metrics

	hl *fmlog.Logger
}

func New(p *pool.Pool, md Metadata, topo Topology, console fmlog.Console, creds pool.Credentials, hl *fmlog.Logger) *Executor {
	if hl == nil {
		hl = fmlog.NewNopLogger()
	}
	return &Executor{
		Pool:        p,
		Metadata:    md,
		Topology:    topo,
		Console:     console,
		Credentials: creds,
		hl:          hl,
	}
}

// relocated overrides the primary of the metadata with the one we moved to;
// the metadata itself may not have caught up yet.
type relocated struct {
	Metadata
	primary string
}

func (r relocated) PrimaryEndpoint(ctx context.Context) (string, error) {
	return r.primary, nil
}

// Run executes work, following primary changes until it either succeeds or
// fails with anything else. There is no limit on the number of moves.
func Run[T any](ctx context.Context, e *Executor, operation string, work Work[T]) (T, error) {
	var zero T
	var md Metadata = e.Metadata
	for {
		e.Metadata.InvalidateCached()
		sp, err := e.Pool.Acquire(ctx, md, e.Interactive, e.Credentials)
		if err != nil {
			e.Metrics.ObserveOperation(operation, err)
			return zero, err
		}

		res, err := work(ctx, sp)
		if err != nil {
			sp.Release()
			e.hl.Debugf("%s failed: %v", operation, err)
			e.Metrics.ObserveOperation(operation, err)
			return zero, err
		}
		if !res.relocate {
			sp.Release()
			e.Metrics.ObserveOperation(operation, nil)
			return res.value, nil
		}

		e.Console.PrintWarning(fmt.Sprintf("%s: reconnecting to %s", res.reason, res.newPrimary))
		target, err := sp.ConnectUnchecked(ctx, res.newPrimary)
		if err != nil {
			sp.Release()
			err = errors.Wrapf(err, "cannot connect to the new primary %s", res.newPrimary)
			e.Metrics.ObserveOperation(operation, err)
			return zero, err
		}
		e.Topology.SetTargetServer(target.Steal())
		sp.Release()
		e.Metrics.ObserveRelocation()
		e.hl.Infof("%s: moved to new primary %s", operation, res.newPrimary)
		md = relocated{Metadata: e.Metadata, primary: target.Endpoint()}
	}
}
