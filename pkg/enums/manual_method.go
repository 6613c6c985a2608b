package enums

import "slices"

// ManualMethod describes how an admin-recorded payment was collected.
type ManualMethod string

const (
	ManualMethodCard     ManualMethod = "card"
	ManualMethodTransfer ManualMethod = "transfer"
)

var validManualMethods = []ManualMethod{
	ManualMethodCard,
	ManualMethodTransfer,
}

// String implements fmt.Stringer.
func (m ManualMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known ManualMethod.
func (m ManualMethod) IsValid() bool {
	return slices.Contains(validManualMethods, m)
}

// ParseManualMethod converts raw input into a ManualMethod.
func ParseManualMethod(value string) (ManualMethod, error) {
	return parseEnum("manual method", validManualMethods, value)
}
