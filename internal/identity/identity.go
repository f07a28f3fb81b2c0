// Package identity derives the deduplication key of a node link. Raw links
// often differ only in remark/fragment text while pointing at the same
// server, so the key prefers a protocol-qualified host:port and only falls
// back to string truncation when the endpoint cannot be recovered.
package identity

import (
	"encoding/base64"
	"regexp"
	"strings"
)

// Fallback truncation lengths. Tuning constants; kept explicit rather than
// inferred.
const (
	payloadKeyLen = 100 // generic fallback: opaque payload prefix
	rawKeyLen     = 200 // absolute fallback: raw link prefix
)

var (
	// vmess payloads are base64-wrapped JSON; the endpoint lives in the
	// "add" (or, in some generators, "server") and "port" fields.
	vmessServer = regexp.MustCompile(`"(?:add|server)"\s*:\s*"([^"]+)"`)
	vmessPort   = regexp.MustCompile(`"port"\s*:\s*"?(\d+)"?`)

	// user-info links: <id>@<host>:<port> with optional ?query / #fragment.
	hostPort = regexp.MustCompile(`@((?:\[[^\]]+\])|[^/?#\s:@]+):(\d+)`)
)

// Key returns the deduplication key of link. It is a pure function: equal
// links always yield equal keys.
func Key(link string) string {
	scheme, payload, ok := strings.Cut(link, "://")
	if !ok || scheme == "" || payload == "" {
		return truncate(link, rawKeyLen)
	}

	switch scheme {
	case "vmess":
		if k, ok := vmessKey(payload); ok {
			return k
		}
	case "vless", "trojan":
		if k, ok := userInfoKey(scheme, payload); ok {
			return k
		}
	}
	return genericKey(scheme, payload)
}

func vmessKey(payload string) (string, bool) {
	decoded, ok := decodePayload(payload)
	if !ok {
		return "", false
	}
	server := vmessServer.FindStringSubmatch(decoded)
	port := vmessPort.FindStringSubmatch(decoded)
	if server == nil || port == nil {
		return "", false
	}
	return "vmess:" + server[1] + ":" + port[1], true
}

func userInfoKey(scheme, payload string) (string, bool) {
	m := hostPort.FindStringSubmatch(payload)
	if m == nil {
		return "", false
	}
	return scheme + ":" + m[1] + ":" + m[2], true
}

// genericKey strips any trailing fragment/query/path from the payload and
// keeps a bounded prefix.
func genericKey(scheme, payload string) string {
	if i := strings.IndexAny(payload, "#?/"); i >= 0 {
		payload = payload[:i]
	}
	return scheme + ":" + truncate(payload, payloadKeyLen)
}

func decodePayload(s string) (string, bool) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(b), true
	}
	if n := len(s) % 4; n != 0 {
		if b, err := base64.StdEncoding.DecodeString(s + strings.Repeat("=", 4-n)); err == nil {
			return string(b), true
		}
	}
	return "", false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary so the key stays valid UTF-8.
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
