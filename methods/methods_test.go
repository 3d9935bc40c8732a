package methods_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/flexnas/internal/backend/cpu"
	"github.com/born-ml/flexnas/internal/nn"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/naserr"
)

func TestParseConversionType(t *testing.T) {
	for _, c := range []methods.ConversionType{methods.Import, methods.AutoImport, methods.Export} {
		got, err := methods.ParseConversionType(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := methods.ParseConversionType("bogus")
	assert.ErrorIs(t, err, naserr.ErrConfiguration)
	assert.ErrorIs(t, methods.ConversionType(42).Validate(), naserr.ErrConfiguration)
}

func TestExclusions(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv1d(1, 1, 1, nn.ConvConfig{}, backend)
	fc := nn.NewLinear(2, 2, backend)

	ex := methods.Exclusions{
		Names: []string{"head"},
		Types: []reflect.Type{reflect.TypeOf(fc)},
	}
	assert.True(t, ex.Excluded("head", conv))
	assert.True(t, ex.Excluded("body", fc))
	assert.False(t, ex.Excluded("body", conv))
}
