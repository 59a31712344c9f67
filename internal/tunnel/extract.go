package tunnel

import "regexp"

// Endpoint patterns, most intentional signal first. The frp client
// announces the public address in a localized phrase; plain URLs and
// bare host:port tokens are progressively weaker fallbacks. Only the
// first match of the first matching pattern is used, so a generic
// token can never pre-empt an explicit announcement.
var endpointPatterns = []*regexp.Regexp{
	regexp.MustCompile(`您可以使用\s*\[([^\]]+)\]\s*访问您的服务`),
	regexp.MustCompile(`(https?://[a-zA-Z0-9.\-:]+)`),
	regexp.MustCompile(`([a-zA-Z0-9.\-]+:[0-9]+)`),
	regexp.MustCompile(`([0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}:[0-9]+)`),
}

// ExtractEndpoint scans the accumulated process output for a
// reachable address. The scan covers the whole text, not just the
// tail, so the first announcement ever printed wins even after the
// log has grown past it.
func ExtractEndpoint(text string) (string, bool) {
	for _, pattern := range endpointPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
