// Package sub turns a raw source payload into candidate node links: it
// undoes the optional base64 wrapping some sources publish and filters the
// lines against the recognized proxy scheme allow-list.
package sub

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

// linkPattern anchors the recognized proxy schemes at the start of a line.
// The list is deliberately broad to raise the aggregation hit rate.
var linkPattern = regexp.MustCompile(`^(vmess|v2ray|trojan|trojan-go|shadowsocks|shadowsocksr|vless|ss|ssr|hysteria|hysteria2|tuic|wireguard|naiveproxy|socks|http|https|clash|shadowsocks2|vmess\+tls|vless\+tls)://`)

// base64Body matches content made up solely of the standard base64 alphabet.
var base64Body = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// DecodeContent applies the base64 heuristic: if the whole (trimmed) payload
// looks like one base64 blob, decode it (first as-is, then with '=' padding
// added up to a multiple of 4) and return the decoded text. Anything that
// fails to decode to valid UTF-8 is assumed to be an already-plaintext list
// and returned unchanged.
func DecodeContent(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || !base64Body.MatchString(s) {
		return raw
	}

	if b, err := base64.StdEncoding.DecodeString(s); err == nil && utf8.Valid(b) {
		return string(b)
	}
	if n := len(s) % 4; n != 0 {
		padded := s + strings.Repeat("=", 4-n)
		if b, err := base64.StdEncoding.DecodeString(padded); err == nil && utf8.Valid(b) {
			return string(b)
		}
	}
	return raw
}

// ExtractLinks splits text into lines and keeps the ones that start with a
// recognized scheme. Comments, headers and blank lines are expected noise
// and dropped silently.
func ExtractLinks(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if linkPattern.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}

// Scheme returns the "<scheme>://" prefix of a link, or "" when the link has
// none. Used for the advisory per-protocol counters.
func Scheme(link string) string {
	scheme, _, ok := strings.Cut(link, "://")
	if !ok {
		return ""
	}
	return scheme
}
