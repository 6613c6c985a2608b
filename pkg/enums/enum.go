package enums

import (
	"fmt"
	"slices"
)

// parseEnum accepts raw only when it is one of valid, exactly as spelled.
func parseEnum[T ~string](kind string, valid []T, raw string) (T, error) {
	v := T(raw)
	if !slices.Contains(valid, v) {
		return "", fmt.Errorf("invalid %s %q", kind, raw)
	}
	return v, nil
}
