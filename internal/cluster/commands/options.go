// Copyright (c) 2026, The fleetman Authors

package commands

import (
	"fmt"
	"regexp"
	"time"

	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/topology"
)

// Option names, as operators spell them.
const (
	OptLabel                      = "label"
	OptCertSubject                = "certSubject"
	OptDryRun                     = "dryRun"
	OptForce                      = "force"
	OptTimeout                    = "timeout"
	OptRecoveryTimeout            = "recoveryTimeout"
	OptExtended                   = "extended"
	OptQueryMembers               = "queryMembers"
	OptUpdateTopologyMode         = "updateTopologyMode"
	OptAddInstances               = "addInstances"
	OptRemoveInstances            = "removeInstances"
	OptUpgradeCommProtocol        = "upgradeCommProtocol"
	OptUpdateViewChangeUUID       = "updateViewChangeUuid"
	OptRunningTransactionsTimeout = "runningTransactionsTimeout"
	OptReplicationSources         = topology.ReplicationSourcesOption
)

const maxExtended = 3

var labelRe = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.:-]{0,255}$`)

func validateLabel(label string) error {
	if !labelRe.MatchString(label) {
		return option.Errorf("The label can only start with an alphanumeric or the '_' character and can only contain alphanumerics or the '_', '.', '-', ':' characters and be at most 256 characters long. Invalid value: '%s'.", label)
	}
	return nil
}

func seconds(name string, v int64) (time.Duration, error) {
	if v < 0 {
		return 0, option.Errorf("Option '%s' must not be negative", name)
	}
	return time.Duration(v) * time.Second, nil
}

type AddInstanceOptions struct {
	Label       string
	CertSubject string
	// zero means the group default
	RecoveryTimeout time.Duration
	DryRun          bool
}

func ParseAddInstanceOptions(raw option.Options) (AddInstanceOptions, error) {
	var opts AddInstanceOptions
	if err := raw.Check(OptLabel, OptCertSubject, OptRecoveryTimeout, OptDryRun); err != nil {
		return opts, err
	}
	label, given, err := raw.String(OptLabel)
	if err != nil {
		return opts, err
	}
	if given {
		if err := validateLabel(label); err != nil {
			return opts, err
		}
		opts.Label = label
	}
	subject, given, err := raw.String(OptCertSubject)
	if err != nil {
		return opts, err
	}
	if given && subject == "" {
		return opts, option.Errorf("Invalid value for '%s' option. Value cannot be an empty string.", OptCertSubject)
	}
	opts.CertSubject = subject
	rt, _, err := raw.Int(OptRecoveryTimeout)
	if err != nil {
		return opts, err
	}
	if opts.RecoveryTimeout, err = seconds(OptRecoveryTimeout, rt); err != nil {
		return opts, err
	}
	opts.DryRun, _, err = raw.Bool(OptDryRun)
	return opts, err
}

type RemoveInstanceOptions struct {
	Force   bool
	DryRun  bool
	Timeout time.Duration
}

func ParseRemoveInstanceOptions(raw option.Options) (RemoveInstanceOptions, error) {
	var opts RemoveInstanceOptions
	if err := raw.Check(OptForce, OptDryRun, OptTimeout); err != nil {
		return opts, err
	}
	var err error
	if opts.Force, _, err = raw.Bool(OptForce); err != nil {
		return opts, err
	}
	if opts.DryRun, _, err = raw.Bool(OptDryRun); err != nil {
		return opts, err
	}
	t, _, err := raw.Int(OptTimeout)
	if err != nil {
		return opts, err
	}
	opts.Timeout, err = seconds(OptTimeout, t)
	return opts, err
}

type RejoinInstanceOptions struct {
	DryRun  bool
	Timeout time.Duration
}

func ParseRejoinInstanceOptions(raw option.Options) (RejoinInstanceOptions, error) {
	var opts RejoinInstanceOptions
	if err := raw.Check(OptDryRun, OptTimeout); err != nil {
		return opts, err
	}
	var err error
	if opts.DryRun, _, err = raw.Bool(OptDryRun); err != nil {
		return opts, err
	}
	t, _, err := raw.Int(OptTimeout)
	if err != nil {
		return opts, err
	}
	opts.Timeout, err = seconds(OptTimeout, t)
	return opts, err
}

type StatusOptions struct {
	Extended int
}

// ParseStatusOptions validates status options; the deprecated queryMembers is
// reported on console.
func ParseStatusOptions(console fmlog.Console, raw option.Options) (StatusOptions, error) {
	var opts StatusOptions
	if err := raw.Check(OptExtended, OptQueryMembers); err != nil {
		return opts, err
	}
	if v, ok := raw.Value(OptExtended); ok {
		if b, isBool := v.AsBool(); isBool {
			if b {
				opts.Extended = 1
			}
		} else {
			ext, _, err := raw.Int(OptExtended)
			if err != nil {
				return opts, err
			}
			if ext < 0 || ext > maxExtended {
				return opts, option.Errorf("Invalid value '%d' for option '%s'. It must be an integer in the range [0, %d].",
					ext, OptExtended, maxExtended)
			}
			opts.Extended = int(ext)
		}
	}
	qm, given, err := raw.Bool(OptQueryMembers)
	if err != nil {
		return opts, err
	}
	if given {
		specific := ""
		if qm {
			specific = fmt.Sprintf(" with value %d", maxExtended)
		}
		console.PrintWarning(fmt.Sprintf("The '%s' option is deprecated. Please use the '%s' option%s instead.",
			OptQueryMembers, OptExtended, specific))
		console.PrintInfo("")
		if qm {
			opts.Extended = maxExtended
		}
	}
	return opts, nil
}

type RescanOptions struct {
	AddInstances         topology.TargetSet
	RemoveInstances      topology.TargetSet
	UpgradeCommProtocol  bool
	UpdateViewChangeUUID bool
}

func ParseRescanOptions(console fmlog.Console, raw option.Options) (RescanOptions, error) {
	var opts RescanOptions
	if err := raw.Check(OptUpdateTopologyMode, OptAddInstances, OptRemoveInstances,
		OptUpgradeCommProtocol, OptUpdateViewChangeUUID); err != nil {
		return opts, err
	}
	if _, given, err := raw.Bool(OptUpdateTopologyMode); err != nil {
		return opts, err
	} else if given {
		console.PrintInfo(fmt.Sprintf("The %s option is deprecated. The topology-mode is now automatically updated.",
			OptUpdateTopologyMode))
		console.PrintInfo("")
	}
	// each family is resolved on its own
	if v, ok := raw.Value(OptAddInstances); ok {
		ts, err := topology.Resolve(OptAddInstances, v)
		if err != nil {
			return opts, err
		}
		opts.AddInstances = ts
	}
	if v, ok := raw.Value(OptRemoveInstances); ok {
		ts, err := topology.Resolve(OptRemoveInstances, v)
		if err != nil {
			return opts, err
		}
		opts.RemoveInstances = ts
	}
	var err error
	if opts.UpgradeCommProtocol, _, err = raw.Bool(OptUpgradeCommProtocol); err != nil {
		return opts, err
	}
	opts.UpdateViewChangeUUID, _, err = raw.Bool(OptUpdateViewChangeUUID)
	return opts, err
}

type SetPrimaryInstanceOptions struct {
	RunningTransactionsTimeout int
}

func ParseSetPrimaryInstanceOptions(raw option.Options) (SetPrimaryInstanceOptions, error) {
	var opts SetPrimaryInstanceOptions
	if err := raw.Check(OptRunningTransactionsTimeout); err != nil {
		return opts, err
	}
	t, _, err := raw.Int(OptRunningTransactionsTimeout)
	if err != nil {
		return opts, err
	}
	if t < 0 || t > 3600 {
		return opts, option.Errorf("Invalid value '%d' for option '%s'. It must be an integer in the range [0, 3600].",
			t, OptRunningTransactionsTimeout)
	}
	opts.RunningTransactionsTimeout = int(t)
	return opts, nil
}

type AddReplicaInstanceOptions struct {
	Label string
	// zero value means follow the primary
	ReplicationSources topology.SourceSet
	DryRun             bool
	Timeout            time.Duration
}

func ParseAddReplicaInstanceOptions(raw option.Options) (AddReplicaInstanceOptions, error) {
	opts := AddReplicaInstanceOptions{ReplicationSources: topology.PrimarySources()}
	if err := raw.Check(OptLabel, OptReplicationSources, OptDryRun, OptTimeout); err != nil {
		return opts, err
	}
	label, given, err := raw.String(OptLabel)
	if err != nil {
		return opts, err
	}
	if given {
		if err := validateLabel(label); err != nil {
			return opts, err
		}
		opts.Label = label
	}
	if v, ok := raw.Value(OptReplicationSources); ok {
		ss, err := topology.Prioritize(v)
		if err != nil {
			return opts, err
		}
		opts.ReplicationSources = ss
	}
	if opts.DryRun, _, err = raw.Bool(OptDryRun); err != nil {
		return opts, err
	}
	t, _, err := raw.Int(OptTimeout)
	if err != nil {
		return opts, err
	}
	opts.Timeout, err = seconds(OptTimeout, t)
	return opts, err
}
