package rflink

import "strings"

// IgnoreList filters events by device id. Entries are either exact ids or
// prefixes ending in '*' ("newkaku_000001_*" covers every switch unit of
// that transmitter). Matching is case-insensitive.
//
// The list is built once from configuration and read-only afterwards.
type IgnoreList struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewIgnoreList builds a list from configured entries. Blank entries are
// skipped.
func NewIgnoreList(entries []string) *IgnoreList {
	l := &IgnoreList{exact: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.HasSuffix(e, "*") {
			l.prefixes = append(l.prefixes, strings.TrimSuffix(e, "*"))
			continue
		}
		l.exact[e] = struct{}{}
	}
	return l
}

// Match reports whether a device id is ignored. Safe on a nil list.
func (l *IgnoreList) Match(deviceID string) bool {
	if l == nil {
		return false
	}
	id := strings.ToLower(deviceID)
	if _, ok := l.exact[id]; ok {
		return true
	}
	for _, p := range l.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// Len returns the number of configured entries.
func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.exact) + len(l.prefixes)
}
