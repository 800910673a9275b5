package gcdr

import "strings"

// DeriveCode computes the registry's natural-key slug for a display name:
// uppercase, every run of non-alphanumeric characters collapsed into a single
// underscore, leading and trailing underscores trimmed.
func DeriveCode(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))

	var builder strings.Builder
	builder.Grow(len(upper))

	pendingSeparator := false
	for _, r := range upper {
		isAlphanumeric := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlphanumeric {
			pendingSeparator = true
			continue
		}
		if pendingSeparator && builder.Len() > 0 {
			builder.WriteByte('_')
		}
		pendingSeparator = false
		builder.WriteRune(r)
	}

	return builder.String()
}
