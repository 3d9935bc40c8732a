package naserr_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/naserr"
)

func TestKinds(t *testing.T) {
	err := naserr.Configurationf("unsupported backend %q", "TPU")
	assert.ErrorIs(t, err, naserr.ErrConfiguration)
	assert.NotErrorIs(t, err, naserr.ErrStructural)
	assert.Contains(t, err.Error(), `"TPU"`)

	assert.ErrorIs(t, naserr.Structuralf("x"), naserr.ErrStructural)
	assert.ErrorIs(t, naserr.Unimplementedf("x"), naserr.ErrUnimplemented)
	assert.True(t, naserr.Is(fmt.Errorf("outer: %w", naserr.Structuralf("x")), naserr.ErrStructural))
}

func TestCatch(t *testing.T) {
	assert.NoError(t, naserr.Catch(func() {}))

	err := naserr.Catch(func() { naserr.Panic(naserr.Configurationf("bad")) })
	require.Error(t, err)
	assert.ErrorIs(t, err, naserr.ErrConfiguration)

	err = naserr.Catch(func() { panic("Linear.Forward: shape mismatch") })
	require.Error(t, err)
	assert.ErrorIs(t, err, naserr.ErrStructural)
	assert.Contains(t, err.Error(), "shape mismatch")
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "ok", naserr.Describe(nil))
	assert.Contains(t, naserr.Describe(naserr.Structuralf("lint")), "structural")
}

func TestCatchPanicf(t *testing.T) {
	err := naserr.Catch(func() { exceptions.Panicf("shape %v does not match", []int{1, 2}) })
	require.Error(t, err)
	assert.ErrorIs(t, err, naserr.ErrStructural)
	assert.Contains(t, err.Error(), "does not match")
}
