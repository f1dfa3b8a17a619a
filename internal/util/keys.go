package util

import "strings"

// RedisKey builds "<prefix>:{<ns>}:<kind>". The braces make every key of a
// namespace share one cluster hash slot, so a namespace can be WATCHed and
// written in one MULTI.
func RedisKey(prefix, ns, kind string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(ns) + len(kind) + 4)
	b.WriteString(prefix)
	b.WriteString(":{")
	b.WriteString(ns)
	b.WriteString("}:")
	b.WriteString(kind)
	return b.String()
}

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "rpccache"
