package sub

import (
	"encoding/base64"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeContent_Base64Blob(t *testing.T) {
	plain := "vmess://abc\nvless://x@1.2.3.4:443#r1"
	encoded := base64.StdEncoding.EncodeToString([]byte(plain))

	if got := DecodeContent(encoded); got != plain {
		t.Fatalf("DecodeContent=%q, want %q", got, plain)
	}
}

func TestDecodeContent_Base64MissingPadding(t *testing.T) {
	plain := "trojan://u1@example.com:8443"
	encoded := strings.TrimRight(base64.StdEncoding.EncodeToString([]byte(plain)), "=")
	if len(encoded)%4 == 0 {
		t.Fatalf("test input unexpectedly padded")
	}

	if got := DecodeContent(encoded); got != plain {
		t.Fatalf("DecodeContent=%q, want %q", got, plain)
	}
}

func TestDecodeContent_PlaintextUnchanged(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"node list", "vmess://abc\nss://def"},
		{"contains non-alphabet chars", "# comment\nvless://x@h:1"},
		{"empty", ""},
		{"alphabet but not base64", "====="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeContent(tt.in); got != tt.in {
				t.Fatalf("DecodeContent(%q)=%q, want input unchanged", tt.in, got)
			}
		})
	}
}

func TestDecodeContent_BinaryDecodeFallsBack(t *testing.T) {
	// Valid base64, but the decoded bytes are not UTF-8 text.
	in := base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0xfd, 0xfc})
	if got := DecodeContent(in); got != in {
		t.Fatalf("DecodeContent=%q, want input unchanged", got)
	}
}

func TestExtractLinks_FiltersNoise(t *testing.T) {
	text := "# free nodes, updated daily\n" +
		"\n" +
		"vmess://abc\n" +
		"  vless://x@1.2.3.4:443#r1  \n" +
		"random header line\n" +
		"trojan://u@host:443\n" +
		"ftp://not-a-node\n"

	want := []string{
		"vmess://abc",
		"vless://x@1.2.3.4:443#r1",
		"trojan://u@host:443",
	}
	if got := ExtractLinks(text); !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractLinks=%v, want %v", got, want)
	}
}

func TestExtractLinks_AllowListPrecision(t *testing.T) {
	accepted := []string{
		"vmess://a", "v2ray://a", "trojan://a", "trojan-go://a",
		"shadowsocks://a", "shadowsocksr://a", "vless://a", "ss://a",
		"ssr://a", "hysteria://a", "hysteria2://a", "tuic://a",
		"wireguard://a", "naiveproxy://a", "socks://a", "http://a",
		"https://a", "clash://a", "shadowsocks2://a",
		"vmess+tls://a", "vless+tls://a",
	}
	for _, line := range accepted {
		if got := ExtractLinks(line); len(got) != 1 || got[0] != line {
			t.Fatalf("ExtractLinks(%q)=%v, want the line itself", line, got)
		}
	}

	rejected := []string{
		"vmes://a",          // unknown scheme
		"xvmess://a",        // not anchored at start
		"vmessplain",        // no ://
		"ss:/missing-slash", // malformed separator
		"SS://upper",        // allow-list is case-sensitive
	}
	for _, line := range rejected {
		if got := ExtractLinks(line); len(got) != 0 {
			t.Fatalf("ExtractLinks(%q)=%v, want empty", line, got)
		}
	}
}

func TestScheme(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vmess://abc", "vmess"},
		{"vless://x@h:1#r", "vless"},
		{"no-scheme", ""},
	}
	for _, tt := range tests {
		if got := Scheme(tt.in); got != tt.want {
			t.Fatalf("Scheme(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
