package commands

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/fmlog"
	"fleetman.io/fleetman/internal/option"
	"fleetman.io/fleetman/internal/topology"
)

func TestParseStatusOptions(t *testing.T) {
	tests := []struct {
		name     string
		raw      option.Options
		extended int
		err      string
		out      string
	}{
		{name: "none", raw: option.Options{}},
		{name: "bool", raw: option.Options{OptExtended: option.NewBool(true)}, extended: 1},
		{name: "level", raw: option.Options{OptExtended: option.NewInt(2)}, extended: 2},
		{
			name: "out of range",
			raw:  option.Options{OptExtended: option.NewInt(4)},
			err:  "Invalid value '4' for option 'extended'. It must be an integer in the range [0, 3].",
		},
		{
			name: "negative",
			raw:  option.Options{OptExtended: option.NewInt(-1)},
			err:  "Invalid value '-1' for option 'extended'. It must be an integer in the range [0, 3].",
		},
		{
			name:     "query members",
			raw:      option.Options{OptQueryMembers: option.NewBool(true)},
			extended: 3,
			out:      "WARNING: The 'queryMembers' option is deprecated. Please use the 'extended' option with value 3 instead.\n\n",
		},
		{
			name: "query members off",
			raw:  option.Options{OptQueryMembers: option.NewBool(false)},
			out:  "WARNING: The 'queryMembers' option is deprecated. Please use the 'extended' option instead.\n\n",
		},
		{name: "unknown", raw: option.Options{"verbose": option.NewBool(true)}, err: "Invalid options: verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			opts, err := ParseStatusOptions(fmlog.NewConsole(&out, nil), tt.raw)
			if tt.err != "" {
				assert.EqualError(t, err, tt.err)
				assert.True(t, option.IsArgumentError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.extended, opts.Extended)
			assert.Equal(t, tt.out, out.String())
		})
	}
}

func TestParseRescanOptions(t *testing.T) {
	var out bytes.Buffer
	console := fmlog.NewConsole(&out, nil)

	opts, err := ParseRescanOptions(console, option.Options{
		OptUpdateTopologyMode: option.NewBool(true),
		OptAddInstances:       option.NewString("auto"),
		OptRemoveInstances:    option.Strings("h1:3306", "H1:3306", "h2:3306"),
	})
	require.NoError(t, err)
	assert.Equal(t, "The updateTopologyMode option is deprecated. The topology-mode is now automatically updated.\n\n", out.String())
	assert.True(t, opts.AddInstances.Auto)
	assert.False(t, opts.RemoveInstances.Auto)
	assert.Equal(t, []string{"h1:3306", "h2:3306"}, opts.RemoveInstances.Endpoints())

	_, err = ParseRescanOptions(console, option.Options{OptAddInstances: option.NewList()})
	assert.EqualError(t, err, "The list for 'addInstances' option cannot be empty.")

	// a bad removeInstances does not hide behind a valid addInstances
	_, err = ParseRescanOptions(console, option.Options{
		OptAddInstances:    option.NewString("auto"),
		OptRemoveInstances: option.NewString("all"),
	})
	assert.EqualError(t, err, "Option 'removeInstances' only accepts 'auto' as a valid string value, otherwise a list of instances is expected.")
}

func TestParseAddInstanceOptions(t *testing.T) {
	opts, err := ParseAddInstanceOptions(option.Options{
		OptLabel:           option.NewString("node-1"),
		OptCertSubject:     option.NewString("CN=node1"),
		OptRecoveryTimeout: option.NewInt(30),
		OptDryRun:          option.NewBool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, AddInstanceOptions{Label: "node-1", CertSubject: "CN=node1", RecoveryTimeout: 30 * time.Second, DryRun: true}, opts)

	_, err = ParseAddInstanceOptions(option.Options{OptCertSubject: option.NewString("")})
	assert.EqualError(t, err, "Invalid value for 'certSubject' option. Value cannot be an empty string.")

	_, err = ParseAddInstanceOptions(option.Options{OptLabel: option.NewString("-bad")})
	assert.True(t, option.IsArgumentError(err))

	_, err = ParseAddInstanceOptions(option.Options{OptLabel: option.NewInt(1)})
	assert.EqualError(t, err, "Option 'label' is expected to be of type String, but is Integer")
}

func TestParseSetPrimaryInstanceOptions(t *testing.T) {
	opts, err := ParseSetPrimaryInstanceOptions(option.Options{OptRunningTransactionsTimeout: option.NewInt(60)})
	require.NoError(t, err)
	assert.Equal(t, 60, opts.RunningTransactionsTimeout)

	_, err = ParseSetPrimaryInstanceOptions(option.Options{OptRunningTransactionsTimeout: option.NewInt(3601)})
	assert.True(t, option.IsArgumentError(err))
}

func TestParseAddReplicaInstanceOptions(t *testing.T) {
	opts, err := ParseAddReplicaInstanceOptions(option.Options{})
	require.NoError(t, err)
	assert.Equal(t, topology.PrimarySources(), opts.ReplicationSources)

	opts, err = ParseAddReplicaInstanceOptions(option.Options{
		OptReplicationSources: option.Strings("10.0.0.1:3306", "10.0.0.2:3306", "10.0.0.1:3306"),
	})
	require.NoError(t, err)
	assert.Equal(t, topology.SourceSet{
		Type: topology.SourceTypeCustom,
		Sources: []topology.ManagedSource{
			{Host: "10.0.0.1", Port: 3306, Weight: topology.ReadReplicaMaxWeight},
			{Host: "10.0.0.2", Port: 3306, Weight: topology.ReadReplicaMaxWeight - 1},
		},
	}, opts.ReplicationSources)

	_, err = ParseAddReplicaInstanceOptions(option.Options{OptReplicationSources: option.NewList()})
	assert.EqualError(t, err, "The list for 'replicationSources' option cannot be empty.")
}

func TestLocalAddress(t *testing.T) {
	fx := newFixture(t)
	_, err := Create(fx.ctx, fx.cfg, option.NewString("127.0.0.1:6554"), CreateOptions{AdminUser: "admin"})
	assert.EqualError(t, err, "Automatically generated port for localAddress falls out of valid range. The port must be an integer between 1 and 65535.")
}
