// Package merge implements the aggregation engine: it fans the configured
// sources out over a bounded worker pool, folds every per-source result into
// a shared identity accumulator, and falls back to a serial loop if the
// concurrent dispatch itself breaks.
package merge

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/John-Robertt/submerge-go/internal/fetch"
	"github.com/John-Robertt/submerge-go/internal/model"
	"github.com/John-Robertt/submerge-go/internal/sub"
	"golang.org/x/sync/semaphore"
)

// HardWorkerCap bounds outbound concurrency regardless of configuration, so
// a huge source list cannot open an unbounded number of connections.
const HardWorkerCap = 20

var httpURL = regexp.MustCompile(`^https?://`)

type MergeError struct {
	AppError model.AppError
	Cause    error
}

func (e *MergeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *MergeError) Unwrap() error { return e.Cause }

// SourceResult is the per-source outcome reported in the run summary.
type SourceResult struct {
	URL       string
	Attempts  int
	Extracted int  // links extracted on the winning attempt
	Added     int  // unique nodes this source contributed
	OK        bool // at least one attempt yielded nodes
}

// Result is the outcome of one aggregation run. Nodes is the deduplicated
// link list in first-seen order; its inter-source order follows worker
// completion order and must not be relied on.
type Result struct {
	Nodes     []string
	PerSource []SourceResult
	Protocols []ProtocolCount
}

// Engine runs one aggregation. The zero value is not usable; construct with
// NewEngine.
type Engine struct {
	params model.Params

	// Delay knobs are fields so tests do not have to wait for real time.
	retryDelay  time.Duration
	serialDelay time.Duration
	fetchOpts   fetch.Options
}

func NewEngine(p model.Params) *Engine {
	return &Engine{
		params:      p,
		retryDelay:  time.Second,
		serialDelay: 200 * time.Millisecond,
		fetchOpts:   fetch.Options{Timeout: p.Timeout},
	}
}

// Merge aggregates all sources. Per-source failures are absorbed; the only
// error it returns is the absence of any valid source.
func (e *Engine) Merge(ctx context.Context, sources []string) (*Result, error) {
	valid := filterSources(sources)
	if len(valid) == 0 {
		return nil, &MergeError{
			AppError: model.AppError{
				Code:    "NO_SOURCES",
				Message: "没有配置有效的节点源",
				Stage:   "merge",
				Hint:    "sources must be http:// or https:// URLs",
			},
		}
	}

	log.Printf("开始合并 %d 个节点源", len(valid))

	res, err := e.fanOut(ctx, valid)
	if err != nil {
		// Dispatch-level failure, not a per-fetch one: start over serially.
		log.Printf("合并节点时发生错误: %v", err)
		res = e.serial(ctx, valid)
	}
	return res, nil
}

// filterSources keeps http(s) URLs that actually parse, dropping duplicates
// while preserving first occurrence.
func filterSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		if !httpURL.MatchString(s) {
			continue
		}
		if _, err := url.Parse(s); err != nil {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func (e *Engine) fanOut(ctx context.Context, sources []string) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("并发调度崩溃: %v", r)
		}
	}()

	workers := len(sources)
	if e.params.Workers < workers {
		workers = e.params.Workers
	}
	if workers > HardWorkerCap {
		workers = HardWorkerCap
	}

	acc := newAccumulator()
	stats := newProtoStats()
	perSource := make([]SourceResult, len(sources))

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	var taskErrMu sync.Mutex
	var taskErr error

	for i, u := range sources {
		if aerr := sem.Acquire(ctx, 1); aerr != nil {
			err = aerr
			break
		}
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					taskErrMu.Lock()
					if taskErr == nil {
						taskErr = fmt.Errorf("fetch task panic: %v", r)
					}
					taskErrMu.Unlock()
				}
			}()
			perSource[i] = e.collectSource(ctx, u, acc, stats)
		}(i, u)
	}
	wg.Wait()

	if err != nil {
		return nil, err
	}
	if taskErr != nil {
		return nil, taskErr
	}
	return &Result{
		Nodes:     acc.Nodes(),
		PerSource: perSource,
		Protocols: stats.Snapshot(),
	}, nil
}

// serial is the fallback path: same sources, same dedup logic, one request
// at a time with a small pause in between.
func (e *Engine) serial(ctx context.Context, sources []string) *Result {
	log.Printf("尝试串行获取节点源")

	acc := newAccumulator()
	stats := newProtoStats()
	perSource := make([]SourceResult, 0, len(sources))

	for i, u := range sources {
		if i > 0 {
			select {
			case <-ctx.Done():
				return &Result{Nodes: acc.Nodes(), PerSource: perSource, Protocols: stats.Snapshot()}
			case <-time.After(e.serialDelay):
			}
		}
		perSource = append(perSource, e.collectSource(ctx, u, acc, stats))
	}
	return &Result{
		Nodes:     acc.Nodes(),
		PerSource: perSource,
		Protocols: stats.Snapshot(),
	}
}

// collectSource fetches one source with retries and folds its links into the
// accumulator. Every failure is absorbed here: the worst outcome is a
// SourceResult with OK=false.
func (e *Engine) collectSource(ctx context.Context, rawURL string, acc *accumulator, stats *protoStats) SourceResult {
	sr := SourceResult{URL: rawURL}
	attempts := e.params.MaxRetry + 1

	for i := 0; i < attempts; i++ {
		sr.Attempts = i + 1
		log.Printf("正在获取节点源: %s (尝试 %d/%d)", rawURL, i+1, attempts)

		links, err := e.fetchOnce(ctx, rawURL)
		switch {
		case err != nil:
			log.Printf("获取节点源 %s 失败: %v", rawURL, err)
		case len(links) == 0:
			log.Printf("从 %s 获取内容，但未能提取到节点", rawURL)
		default:
			added := acc.Fold(links)
			for _, l := range added {
				stats.Inc(sub.Scheme(l))
			}
			sr.Extracted = len(links)
			sr.Added = len(added)
			sr.OK = true
			log.Printf("成功从 %s 获取 %d 个节点", rawURL, len(links))
			return sr
		}

		if i+1 < attempts {
			select {
			case <-ctx.Done():
				return sr
			case <-time.After(e.retryDelay):
			}
		}
	}
	return sr
}

func (e *Engine) fetchOnce(ctx context.Context, rawURL string) ([]string, error) {
	body, err := fetch.Text(ctx, rawURL, e.fetchOpts)
	if err != nil {
		return nil, err
	}
	return sub.ExtractLinks(sub.DecodeContent(body)), nil
}
