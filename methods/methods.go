// Package methods holds the options shared by the NAS and quantization
// methods: the conversion type and the layer exclusion rules.
package methods

import (
	"fmt"
	"reflect"

	"github.com/born-ml/flexnas/naserr"
)

// ConversionType selects what a conversion pass does with the target layers.
type ConversionType int

const (
	// Import collects the NAS layers already present in the model.
	Import ConversionType = iota + 1
	// AutoImport replaces supported plain layers with NAS layers.
	AutoImport
	// Export turns NAS layers back into plain layers.
	Export
)

func (c ConversionType) String() string {
	switch c {
	case Import:
		return "import"
	case AutoImport:
		return "autoimport"
	case Export:
		return "export"
	default:
		return fmt.Sprintf("ConversionType(%d)", int(c))
	}
}

// Validate returns ErrConfiguration for values outside the enum.
func (c ConversionType) Validate() error {
	switch c {
	case Import, AutoImport, Export:
		return nil
	}
	return naserr.Configurationf("unsupported conversion type %v", c)
}

// ParseConversionType parses "import", "autoimport" or "export".
func ParseConversionType(s string) (ConversionType, error) {
	for _, c := range []ConversionType{Import, AutoImport, Export} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, naserr.Configurationf("unsupported conversion type %q", s)
}

// Exclusions lists the layers left untouched by autoimport.
type Exclusions struct {
	Names []string
	Types []reflect.Type
}

// Excluded reports whether the module at the qualified name must be kept.
func (e Exclusions) Excluded(name string, m any) bool {
	for _, n := range e.Names {
		if n == name {
			return true
		}
	}
	t := reflect.TypeOf(m)
	for _, et := range e.Types {
		if et == t {
			return true
		}
	}
	return false
}
