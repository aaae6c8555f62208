// Package topic resolves logical topic names to their absolute form using
// workspace and node-relative prefixes.
package topic

import "strings"

// ReplyPrefix marks service reply channels, which are never rewritten and
// never appear in user-facing topic listings.
const ReplyPrefix = "srv://"

// Resolve applies the bit-exact namespacing rules from the specification:
//   - a leading "." is replaced by nodeName with no separator;
//   - else, if workspace is set and name doesn't already start with it,
//     workspace is prepended as "{workspace}.{name}";
//   - reply channels ("srv://...") are returned unchanged.
func Resolve(workspace, nodeName, name string) string {
	if strings.HasPrefix(name, ReplyPrefix) {
		return name
	}
	if strings.HasPrefix(name, ".") {
		return nodeName + strings.TrimPrefix(name, ".")
	}
	if workspace != "" && !strings.HasPrefix(name, workspace) {
		return workspace + "." + name
	}
	return name
}

// IsReplyChannel reports whether name is a service reply channel, which
// must be excluded from user-facing topic listings.
func IsReplyChannel(name string) bool {
	return strings.HasPrefix(name, ReplyPrefix)
}
