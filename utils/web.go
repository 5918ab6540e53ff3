package utils

import (
	"net/url"
	"regexp"
	"strings"
)

// JoinURL resolves relativePath against baseURL. Paths starting with "/"
// replace the base path.
func JoinURL(baseURL, relativePath string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	relative, err := url.Parse(relativePath)
	if err != nil {
		return ""
	}

	return base.ResolveReference(relative).String()
}

func GetQSValue(urlStr string, key string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	values := u.Query()
	return values.Get(key)
}

// HostOf returns the host of urlStr, or "" when it does not parse.
func HostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}

var linkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?([^",;]+)"?`)

// NextLink returns the rel="next" target of an RFC 8288 Link header.
func NextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		m := linkPattern.FindStringSubmatch(strings.TrimSpace(part))
		if len(m) == 3 && m[2] == "next" {
			return m[1]
		}
	}
	return ""
}
