package merge

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-Robertt/submerge-go/internal/model"
)

func testEngine(p model.Params) *Engine {
	e := NewEngine(p)
	e.retryDelay = 0
	e.serialDelay = 0
	return e
}

func textServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestMerge_NoValidSources(t *testing.T) {
	e := testEngine(model.Params{Timeout: time.Second, Workers: 4})

	for _, sources := range [][]string{
		nil,
		{},
		{"ftp://example.com/list", "not a url at all"},
	} {
		_, err := e.Merge(context.Background(), sources)
		var me *MergeError
		if !errors.As(err, &me) {
			t.Fatalf("expected *MergeError, got %T: %v", err, err)
		}
		if me.AppError.Code != "NO_SOURCES" {
			t.Fatalf("code=%q, want=%q", me.AppError.Code, "NO_SOURCES")
		}
	}
}

func TestFilterSources(t *testing.T) {
	in := []string{
		"https://a.example/list",
		"ftp://b.example/list",
		"https://a.example/list", // duplicate
		"http://c.example/list",
		"junk",
	}
	want := []string{"https://a.example/list", "http://c.example/list"}
	if got := filterSources(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("filterSources=%v, want %v", got, want)
	}
}

func TestMerge_CrossSourceIdentityDedup(t *testing.T) {
	// Source 1 is plaintext, source 2 publishes one base64 blob. Both carry
	// a vless node at 1.2.3.4:443 that differs only in remark text.
	s1 := textServer(t, "vmess://abc\nvless://x@1.2.3.4:443#r1")
	s2 := textServer(t, base64.StdEncoding.EncodeToString([]byte("vless://y@1.2.3.4:443#r2")))

	// Workers=1 makes the fold order deterministic for the assertion.
	e := testEngine(model.Params{Timeout: 2 * time.Second, MaxRetry: 1, Workers: 1})
	res, err := e.Merge(context.Background(), []string{s1.URL, s2.URL})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	want := []string{"vmess://abc", "vless://x@1.2.3.4:443#r1"}
	if !reflect.DeepEqual(res.Nodes, want) {
		t.Fatalf("Nodes=%v, want %v", res.Nodes, want)
	}

	if res.PerSource[1].Extracted != 1 || res.PerSource[1].Added != 0 {
		t.Fatalf("source 2 result=%+v, want extracted=1 added=0", res.PerSource[1])
	}
}

func TestMerge_SourceInternalDuplicates(t *testing.T) {
	s := textServer(t, "vless://a@9.9.9.9:443#one\nvless://b@9.9.9.9:443#two\ntrojan://p@9.9.9.9:443")

	e := testEngine(model.Params{Timeout: 2 * time.Second, Workers: 2})
	res, err := e.Merge(context.Background(), []string{s.URL})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	want := []string{"vless://a@9.9.9.9:443#one", "trojan://p@9.9.9.9:443"}
	if !reflect.DeepEqual(res.Nodes, want) {
		t.Fatalf("Nodes=%v, want %v", res.Nodes, want)
	}
}

func TestMerge_EmptySourceDoesNotAbortRun(t *testing.T) {
	empty := textServer(t, "")
	good := textServer(t, "ss://abcdef#jp")

	e := testEngine(model.Params{Timeout: 2 * time.Second, MaxRetry: 1, Workers: 1})
	res, err := e.Merge(context.Background(), []string{empty.URL, good.URL})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if !reflect.DeepEqual(res.Nodes, []string{"ss://abcdef#jp"}) {
		t.Fatalf("Nodes=%v, want the good source's node", res.Nodes)
	}
	if res.PerSource[0].OK {
		t.Fatalf("empty source reported OK")
	}
	if res.PerSource[0].Attempts != 2 {
		t.Fatalf("attempts=%d, want retries exhausted (2)", res.PerSource[0].Attempts)
	}
}

func TestMerge_RetryBound(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	e := testEngine(model.Params{Timeout: 2 * time.Second, MaxRetry: 2, Workers: 4})
	res, err := e.Merge(context.Background(), []string{ts.URL})
	if err != nil {
		t.Fatalf("a failing source must not error the run: %v", err)
	}

	if n := hits.Load(); n != 3 {
		t.Fatalf("attempts=%d, want exactly MaxRetry+1=3", n)
	}
	if len(res.Nodes) != 0 {
		t.Fatalf("Nodes=%v, want empty", res.Nodes)
	}
	if res.PerSource[0].OK || res.PerSource[0].Attempts != 3 {
		t.Fatalf("per-source result=%+v, want OK=false attempts=3", res.PerSource[0])
	}
}

func TestMerge_WorkerCountCapped(t *testing.T) {
	// More sources than the hard cap; just checks the run completes and all
	// sources report back.
	body := "vmess://abc"
	ts := textServer(t, body)

	sources := make([]string, 0, HardWorkerCap+5)
	for i := 0; i < HardWorkerCap+5; i++ {
		sources = append(sources, ts.URL+"/?i="+string(rune('a'+i)))
	}

	e := testEngine(model.Params{Timeout: 2 * time.Second, Workers: 100})
	res, err := e.Merge(context.Background(), sources)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.PerSource) != len(sources) {
		t.Fatalf("per-source results=%d, want %d", len(res.PerSource), len(sources))
	}
	// All bodies are identical, so dedup keeps exactly one node.
	if len(res.Nodes) != 1 {
		t.Fatalf("Nodes=%v, want a single deduplicated node", res.Nodes)
	}
}

func TestMerge_SerialFallbackOnDispatchError(t *testing.T) {
	good := textServer(t, "trojan://p@5.6.7.8:443#x")

	e := testEngine(model.Params{Timeout: 2 * time.Second, Workers: 2})

	// A canceled context makes semaphore.Acquire fail, which is an
	// orchestration error; the serial path must still do the work.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Merge(ctx, []string{good.URL})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	// The serial path also sees the canceled context, so fetches fail fast,
	// but the run itself must complete without error.
	if res == nil {
		t.Fatalf("expected a result from the serial fallback")
	}
}

func TestAccumulator_FirstSeenWins(t *testing.T) {
	acc := newAccumulator()

	added := acc.Fold([]string{"vless://x@1.2.3.4:443#r1", "vless://y@1.2.3.4:443#r2"})
	if !reflect.DeepEqual(added, []string{"vless://x@1.2.3.4:443#r1"}) {
		t.Fatalf("added=%v", added)
	}

	added = acc.Fold([]string{"vless://z@1.2.3.4:443#r3", "vmess://abc"})
	if !reflect.DeepEqual(added, []string{"vmess://abc"}) {
		t.Fatalf("added=%v", added)
	}

	want := []string{"vless://x@1.2.3.4:443#r1", "vmess://abc"}
	if got := acc.Nodes(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Nodes=%v, want %v", got, want)
	}
}

func TestProtoStats_Snapshot(t *testing.T) {
	s := newProtoStats()
	s.Inc("vmess")
	s.Inc("vless")
	s.Inc("vmess")
	s.Inc("")

	want := []ProtocolCount{
		{Proto: "(unknown)", N: 1},
		{Proto: "vless", N: 1},
		{Proto: "vmess", N: 2},
	}
	if got := s.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Snapshot=%v, want %v", got, want)
	}
}
