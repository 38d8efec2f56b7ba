package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"fleetman.io/fleetman/internal/cluster"
	"fleetman.io/fleetman/internal/mysql"
	"fleetman.io/fleetman/internal/pool"
)

const defaultRecoveryTimeout = 5 * time.Minute

func recoveryTimeout(spec *cluster.GroupSpec, given time.Duration) time.Duration {
	if given > 0 {
		return given
	}
	if spec.RecoveryTimeout != nil && spec.RecoveryTimeout.Duration > 0 {
		return spec.RecoveryTimeout.Duration
	}
	return defaultRecoveryTimeout
}

// retryFor retries op with exponential backoff until it succeeds, fails
// permanently or timeout passes.
func retryFor(ctx context.Context, timeout time.Duration, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = timeout
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// waitMemberOnline waits for the member with uuid to finish recovery, as seen
// by the primary.
func waitMemberOnline(ctx context.Context, primary *pool.Instance, uuid string, timeout time.Duration) error {
	return retryFor(ctx, timeout, func() error {
		members, err := primary.GroupMembers(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		m, ok := mysql.FindMember(members, uuid)
		if !ok {
			return fmt.Errorf("instance %s did not show up in the group", uuid)
		}
		switch m.State {
		case mysql.StateOnline:
			return nil
		case mysql.StateRecovering:
			return fmt.Errorf("instance %s is still recovering", uuid)
		}
		return backoff.Permanent(fmt.Errorf("instance %s went %s while joining the group", memberEndpoint(m), m.State))
	})
}

func waitReplicaRunning(ctx context.Context, inst *pool.Instance, channel string, timeout time.Duration) error {
	return retryFor(ctx, timeout, func() error {
		rs, err := inst.ReplicaStatus(ctx, channel)
		if err != nil {
			return backoff.Permanent(err)
		}
		if rs == nil {
			return backoff.Permanent(fmt.Errorf("%s: replication channel '%s' is not configured", inst.Endpoint(), channel))
		}
		if rs.LastError != "" {
			return backoff.Permanent(fmt.Errorf("%s: replication channel '%s' failed: %s", inst.Endpoint(), channel, rs.LastError))
		}
		if !rs.Running() {
			return fmt.Errorf("%s: replication channel '%s' is not running yet", inst.Endpoint(), channel)
		}
		return nil
	})
}
