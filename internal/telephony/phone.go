package telephony

import "strings"

// NormalizePhone returns the canonical form used for routing and CRM lookups:
// every non-digit removed, then a leading "+". Inputs without digits yield "".
func NormalizePhone(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 1)
	b.WriteByte('+')
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 {
		return ""
	}
	return b.String()
}
