package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetman.io/fleetman/internal/option"
)

func TestResolveAuto(t *testing.T) {
	for _, s := range []string{"auto", "AUTO", "Auto"} {
		ts, err := Resolve("addInstances", option.NewString(s))
		require.NoError(t, err, s)
		assert.True(t, ts.Auto)
		assert.Empty(t, ts.Instances)
		assert.True(t, ts.IsSet())
	}
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name    string
		value   option.Value
		wantErr string
	}{
		{
			name:    "other string",
			value:   option.NewString("everything"),
			wantErr: "Option 'addInstances' only accepts 'auto' as a valid string value, otherwise a list of instances is expected.",
		},
		{
			name:    "empty list",
			value:   option.NewList(),
			wantErr: "The list for 'addInstances' option cannot be empty.",
		},
		{
			name:    "integer",
			value:   option.NewInt(3),
			wantErr: "The 'addInstances' option must be a string or a list of strings.",
		},
		{
			name:    "bool",
			value:   option.NewBool(true),
			wantErr: "The 'addInstances' option must be a string or a list of strings.",
		},
		{
			name:    "bad element",
			value:   option.Strings("h1:3306", "h2"),
			wantErr: "Invalid value 'h2' for 'addInstances' option: port is missing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve("addInstances", tt.value)
			require.Error(t, err)
			assert.True(t, option.IsArgumentError(err))
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestResolveListDedup(t *testing.T) {
	ts, err := Resolve("removeInstances", option.Strings("h1:3306", "h2:3306", "H1:3306", "h3:3306", "h2:3306"))
	require.NoError(t, err)
	assert.False(t, ts.Auto)
	assert.Equal(t, []string{"h1:3306", "h2:3306", "h3:3306"}, ts.Endpoints())
	assert.True(t, ts.Contains("h3:3306"))
	assert.True(t, ts.Contains("h1:3306"))
	assert.False(t, ts.Contains("h4:3306"))
}

func TestResolveMapElements(t *testing.T) {
	v := option.NewList(
		option.NewMap(map[string]option.Value{"host": option.NewString("h1"), "port": option.NewInt(3306)}),
		option.NewString("h2:3307"),
	)
	ts, err := Resolve("addInstances", v)
	require.NoError(t, err)
	assert.Equal(t, []string{"h1:3306", "h2:3307"}, ts.Endpoints())
}

func TestResolveIsIndependentPerFamily(t *testing.T) {
	add, err := Resolve("addInstances", option.NewString("auto"))
	require.NoError(t, err)
	remove, err := Resolve("removeInstances", option.Strings("h1:3306"))
	require.NoError(t, err)
	assert.True(t, add.Auto)
	assert.Empty(t, add.Instances)
	assert.False(t, remove.Auto)
	assert.Len(t, remove.Instances, 1)

	var unset TargetSet
	assert.False(t, unset.IsSet())
}
