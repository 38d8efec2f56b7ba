// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/executor"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/pool"
)

// checkPrimary connects to the primary the scope is bound to and makes sure
// it still is the primary. Every unit of work starts with it. A change is
// recorded in the metadata and reported as PrimaryInvalidatedError, which
// moves the whole unit to the new primary.
func (f *Fleet) checkPrimary(ctx context.Context, sp *pool.Scoped) (*pool.Instance, *cluster.ClusterData, error) {
	cldata, err := f.cs.MustGetClusterData(ctx)
	if err != nil {
		return nil, nil, err
	}

	primary, err := sp.ConnectPrimary(ctx)
	if err != nil {
		if cldata.Type == cluster.TypeCluster {
			if np := f.primaryFromOthers(ctx, sp, cldata); np != "" && !sameEndpoint(np, sp.Primary()) {
				return nil, nil, f.primaryChanged(ctx, cldata, np)
			}
		}
		return nil, nil, fmt.Errorf("cannot connect to the primary %s: %v", sp.Primary(), err)
	}

	observed, err := f.observePrimary(ctx, sp, primary, cldata)
	if err != nil {
		return nil, nil, err
	}
	if !sameEndpoint(observed, sp.Primary()) {
		return nil, nil, f.primaryChanged(ctx, cldata, observed)
	}
	// we may have moved here before the metadata learned about it
	if !sameEndpoint(cldata.Primary, observed) {
		cldata.SetPrimary(observed)
		if err := f.cs.PutClusterData(ctx, cldata); err != nil {
			return nil, nil, err
		}
	}
	return primary, cldata, nil
}

// recheckPrimary runs after a verb changed an instance and before it writes
// the metadata. The metadata write is always the last step, so a unit moved
// to a new primary from here finds the metadata as it was before the verb
// and reaches the same decisions again.
func (f *Fleet) recheckPrimary(ctx context.Context, sp *pool.Scoped, primary *pool.Instance, cldata *cluster.ClusterData) error {
	observed, err := f.observePrimary(ctx, sp, primary, cldata)
	if err != nil {
		return err
	}
	if !sameEndpoint(observed, sp.Primary()) {
		return f.primaryChanged(ctx, cldata, observed)
	}
	return nil
}

func (f *Fleet) observePrimary(ctx context.Context, sp *pool.Scoped, primary *pool.Instance, cldata *cluster.ClusterData) (string, error) {
	if cldata.Type == cluster.TypeReplicaSet {
		ro, err := primary.SuperReadOnly(ctx)
		if err != nil {
			return "", err
		}
		if !ro {
			return primary.Endpoint(), nil
		}
		// a demoted primary replicates from its successor
		rs, err := primary.ReplicaStatus(ctx, "")
		if err != nil {
			return "", err
		}
		if rs == nil || rs.SourceHost == "" {
			return "", fmt.Errorf("primary %s of replica set '%s' is read only and has no source", primary.Endpoint(), f.Name())
		}
		return net.JoinHostPort(rs.SourceHost, strconv.Itoa(rs.SourcePort)), nil
	}

	members, err := primary.GroupMembers(ctx)
	if err != nil {
		return "", err
	}
	if p, ok := mysql.PrimaryOf(members); ok {
		return memberEndpoint(p), nil
	}
	// expelled, or never joined back after a restart
	if np := f.primaryFromOthers(ctx, sp, cldata); np != "" {
		return np, nil
	}
	return "", fmt.Errorf("no ONLINE primary found in cluster '%s', the group may have lost quorum", f.Name())
}

// primaryFromOthers asks the other group members who the primary is.
func (f *Fleet) primaryFromOthers(ctx context.Context, sp *pool.Scoped, cldata *cluster.ClusterData) string {
	for _, m := range cldata.GroupMembers() {
		if sameEndpoint(m.Endpoint, sp.Primary()) {
			continue
		}
		inst, err := sp.ConnectUnchecked(ctx, m.Endpoint)
		if err != nil {
			f.hl.Debugf("cannot ask %s for the primary: %v", m.Endpoint, err)
			continue
		}
		members, err := inst.GroupMembers(ctx)
		if err != nil {
			continue
		}
		if p, ok := mysql.PrimaryOf(members); ok {
			return memberEndpoint(p)
		}
	}
	return ""
}

func (f *Fleet) primaryChanged(ctx context.Context, cldata *cluster.ClusterData, newPrimary string) error {
	f.hl.Infof("cluster %s: primary changed from %s to %s", f.Name(), cldata.Primary, newPrimary)
	cldata.SetPrimary(newPrimary)
	if err := f.cs.PutClusterData(ctx, cldata); err != nil {
		return fmt.Errorf("cannot record new primary %s: %v", newPrimary, err)
	}
	return &executor.PrimaryInvalidatedError{
		NewPrimary: cldata.Primary,
		Reason:     fmt.Sprintf("The primary of '%s' changed", f.Name()),
	}
}

func sameEndpoint(a, b string) bool {
	return strings.EqualFold(a, b)
}
