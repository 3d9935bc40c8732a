package mixprec

import (
	"github.com/born-ml/flexnas/internal/tensor"
	"github.com/born-ml/flexnas/methods"
	"github.com/born-ml/flexnas/methods/mixprec/quant"
	"github.com/born-ml/flexnas/naserr"
)

// Default precisions.
const (
	DefaultWeightBits = 8
	DefaultActBits    = 8
)

// Config selects the precision of the quantizers created by Quantize.
// Zero fields take their defaults.
type Config struct {
	WeightBits int `yaml:"weight_bits"`
	ActBits    int `yaml:"act_bits"`
	BiasBits   int `yaml:"bias_bits"`

	// PACT selects the unsigned PACT activation quantizer instead of the
	// symmetric min-max one.
	PACT bool `yaml:"pact"`

	// Exclusions are left in floating point.
	Exclusions methods.Exclusions `yaml:"-"`
}

// DefaultConfig returns an 8-bit configuration with 32-bit biases.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.WeightBits == 0 {
		c.WeightBits = DefaultWeightBits
	}
	if c.ActBits == 0 {
		c.ActBits = DefaultActBits
	}
	if c.BiasBits == 0 {
		c.BiasBits = quant.DefaultBiasBits
	}
	return c
}

// Validate reports bit-widths outside [2, 32].
func (c Config) Validate() error {
	c = c.withDefaults()
	for _, p := range []struct {
		name string
		bits int
	}{{"weight", c.WeightBits}, {"activation", c.ActBits}, {"bias", c.BiasBits}} {
		if p.bits < 2 || p.bits > 32 {
			return naserr.Configurationf("%s precision must be in [2, 32] bits, got %d", p.name, p.bits)
		}
	}
	return nil
}

func newActQuantizer[B tensor.Backend](c Config, backend B) quant.Quantizer[B] {
	if c.PACT {
		return quant.NewPACTAct(c.ActBits, backend)
	}
	return quant.NewMinMaxAct[B](c.ActBits)
}
