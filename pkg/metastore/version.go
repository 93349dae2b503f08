package metastore

import (
	"strings"
	"unicode"
)

// numericPadWidth is the width numeric runs are padded to in the normalized
// form. Version segments longer than this sort by their unpadded length
// first, which keeps ordering stable for pathological inputs.
const numericPadWidth = 9

// NormalizeVersion computes the sortable normal form stored in
// Component.NormalizedVersion: the version lowercased with every run of
// digits left-padded with zeros, so that lexicographic order matches
// numeric order per segment ("1.10.2" sorts after "1.9.11").
func NormalizeVersion(version string) string {
	if version == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(version) + numericPadWidth)
	var digits strings.Builder
	flush := func() {
		if digits.Len() == 0 {
			return
		}
		run := strings.TrimLeft(digits.String(), "0")
		if run == "" {
			run = "0"
		}
		if pad := numericPadWidth - len(run); pad > 0 {
			b.WriteString(strings.Repeat("0", pad))
		}
		b.WriteString(run)
		digits.Reset()
	}
	for _, r := range version {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
			continue
		}
		flush()
		b.WriteRune(unicode.ToLower(r))
	}
	flush()
	return b.String()
}
