package compat

import (
	"errors"
	"testing"

	"github.com/jacksonlee411/metaregistry/pkg/metaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewContext(t *testing.T) {
	cases := []struct {
		caller, engine string
		want           State
	}{
		{"1.0.0", "1.9.3", StateCompatible},
		{"v2.1.0", "2.0.0", StateCompatible},
		{"1.4.0", "2.0.1", StateBlocked},
		{"2", "2.0.0", StateBlocked},
		{"", "2.0.0", StateBlocked},
		{"2.x.0", "2.0.0", StateBlocked},
		{"-1.0.0", "-1.0.0", StateBlocked},
	}
	for _, tc := range cases {
		c := NewContext(tc.caller, tc.engine)
		assert.Equal(t, tc.want, c.State(), "%s vs %s", tc.caller, tc.engine)
	}
}

func TestCheck(t *testing.T) {
	require.NoError(t, NewContext("3.1.4", "3.0.0").Check())

	err := NewContext("1.4.0", "2.0.1").Check()
	vm, ok := errors.AsType[*metaerr.VersionMismatchError](err)
	require.True(t, ok)
	assert.Equal(t, "1.4.0", vm.CallerVersion)
	assert.Equal(t, "2.0.1", vm.EngineVersion)
}

func TestZeroValueIsUnchecked(t *testing.T) {
	var nilCtx *Context
	assert.Equal(t, StateUnchecked, nilCtx.State())
	assert.True(t, metaerr.IsVersionMismatch(nilCtx.Check()))

	var zero Context
	assert.Equal(t, StateUnchecked, zero.State())
	assert.True(t, metaerr.IsVersionMismatch(zero.Check()))
}
