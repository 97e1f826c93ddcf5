package realtime

import (
	"regexp"
	"strings"
	"sync"
)

var templateCache sync.Map // selector -> *regexp.Regexp

// MatchTopic reports whether topic is selected by selector. A selector is
// "*" (everything), an exact topic, or a URI template whose {variables}
// each match one non-empty path segment.
func MatchTopic(selector, topic string) bool {
	switch {
	case selector == "*":
		return true
	case selector == topic:
		return true
	case !strings.Contains(selector, "{"):
		return false
	}
	return compileTemplate(selector).MatchString(topic)
}

// MatchAny reports whether any selector matches topic.
func MatchAny(selectors []string, topic string) bool {
	for _, s := range selectors {
		if MatchTopic(s, topic) {
			return true
		}
	}
	return false
}

func compileTemplate(selector string) *regexp.Regexp {
	if re, ok := templateCache.Load(selector); ok {
		return re.(*regexp.Regexp)
	}

	var b strings.Builder
	b.WriteString("^")
	rest := selector
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:open]))
		b.WriteString("[^/]+")
		rest = rest[open+end+1:]
	}
	b.WriteString("$")

	re := regexp.MustCompile(b.String())
	templateCache.Store(selector, re)
	return re
}
