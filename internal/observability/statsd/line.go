package statsd

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// line is one metric in the DogStatsD text format:
// <prefix>.<name>:<value>|<kind>|#k:v,k:v
type line struct {
	name  string
	value string
	kind  string
	tags  map[string]string
}

func (l line) encode(prefix string, base map[string]string) string {
	name := metricName(l.name)
	if name == "" {
		return ""
	}

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte('.')
	}
	b.WriteString(name)
	b.WriteByte(':')
	b.WriteString(l.value)
	b.WriteByte('|')
	b.WriteString(l.kind)

	merged := cleanTags(base)
	maps.Copy(merged, cleanTags(l.tags))
	if len(merged) > 0 {
		b.WriteString("|#")
		for i, k := range slices.Sorted(maps.Keys(merged)) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(merged[k])
		}
	}
	return b.String()
}

// metricName maps separators that collide with the wire format to underscores
// and drops empty path segments.
func metricName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', ':', '|', '@', '#':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))

	parts := strings.Split(name, ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

func cleanTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func formatMillis(ms float64) string {
	return strconv.FormatFloat(ms, 'f', -1, 64)
}
