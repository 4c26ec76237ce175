package windows

import "strings"

// Well-known window tags.
const (
	// TagMain is the default/root application window.
	TagMain = "main"
	// TagPanel is the floating recording panel.
	TagPanel = "panel"
	// TagSetup is the first-run setup window.
	TagSetup = "setup"
)

// Rule binds a tag to a URL predicate. Rules are evaluated in order and the
// first match wins, which makes precedence auditable in isolation.
type Rule struct {
	Tag   string
	Match func(url string) bool
}

// tagSegments are the URL segments that identify non-default windows.
var tagSegments = []string{TagPanel, TagSetup}

// DefaultRules returns the ordered classification table. Tag-specific rules
// come first; "main" is the fallback and claims a window only when no
// tag-specific segment appears in its URL.
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(tagSegments)+1)
	for _, tag := range tagSegments {
		tag := tag
		rules = append(rules, Rule{
			Tag:   tag,
			Match: func(url string) bool { return hasTagSegment(url, tag) },
		})
	}
	rules = append(rules, Rule{
		Tag: TagMain,
		Match: func(url string) bool {
			for _, tag := range tagSegments {
				if hasTagSegment(url, tag) {
					return false
				}
			}
			return true
		},
	})
	return rules
}

// hasTagSegment reports whether the resolved URL addresses the given tag's
// route. Hash-router URLs ("...index.html#/panel") and plain paths
// ("...app/panel") both count; a longer segment sharing the prefix
// ("#/panels") does not.
func hasTagSegment(url, tag string) bool {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	url = strings.TrimSuffix(url, "/")
	segment := "/" + tag
	return strings.HasSuffix(url, segment) || strings.Contains(url, segment+"/")
}
