package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/submerge-go/internal/model"
)

const stage = "fetch_source"

// DefaultUserAgent is a browser-like UA: many free node lists sit behind
// CDNs that reject obvious bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default 8 MiB
	MaxRedirects int           // default 5
	UserAgent    string        // default DefaultUserAgent
}

type FetchError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

// Text performs one GET attempt against rawURL and returns the body as a
// string. Retrying on failure is the caller's concern; Text never retries.
func Text(ctx context.Context, rawURL string, opt Options) (string, error) {
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	maxRedirects := opt.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = 8 * 1024 * 1024
	}
	if maxBytes <= 0 {
		return "", &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "响应大小上限必须大于 0",
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}
	userAgent := opt.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "仅允许 http/https URL",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: errors.Join(errInvalidURLOrScheme, err),
		}
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{
			Status: http.StatusBadRequest,
			AppError: model.AppError{
				Code:    "INVALID_ARGUMENT",
				Message: "请求 URL 不合法",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		if errors.Is(err, errTooManyRedirects) {
			return "", &FetchError{
				Status: http.StatusBadGateway,
				AppError: model.AppError{
					Code:    "FETCH_FAILED",
					Message: fmt.Sprintf("重定向次数超过上限（>%d）", maxRedirects),
					Stage:   stage,
					URL:     rawURL,
				},
				Cause: err,
			}
		}
		if errors.Is(err, errRedirectBadScheme) {
			return "", &FetchError{
				Status: http.StatusBadRequest,
				AppError: model.AppError{
					Code:    "INVALID_ARGUMENT",
					Message: "重定向目标仅允许 http/https",
					Stage:   stage,
					URL:     rawURL,
				},
				Cause: err,
			}
		}

		// Timeout detection: Go may wrap errors (e.g. *url.Error).
		var ne net.Error
		if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
			return "", &FetchError{
				Status: http.StatusGatewayTimeout,
				AppError: model.AppError{
					Code:    "FETCH_TIMEOUT",
					Message: "拉取节点源超时",
					Stage:   stage,
					URL:     rawURL,
				},
				Cause: err,
			}
		}

		return "", &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: "拉取节点源失败",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: fmt.Sprintf("节点源返回非 2xx 状态码：%d", resp.StatusCode),
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}

	// Read at most maxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", &FetchError{
				Status: http.StatusGatewayTimeout,
				AppError: model.AppError{
					Code:    "FETCH_TIMEOUT",
					Message: "拉取节点源超时",
					Stage:   stage,
					URL:     rawURL,
				},
				Cause: err,
			}
		}
		return "", &FetchError{
			Status: http.StatusBadGateway,
			AppError: model.AppError{
				Code:    "FETCH_FAILED",
				Message: "读取节点源响应失败",
				Stage:   stage,
				URL:     rawURL,
			},
			Cause: err,
		}
	}
	if int64(len(body)) > maxBytes {
		return "", &FetchError{
			Status: http.StatusUnprocessableEntity,
			AppError: model.AppError{
				Code:    "TOO_LARGE",
				Message: fmt.Sprintf("节点源内容过大（>%d bytes）", maxBytes),
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}
	if !utf8.Valid(body) {
		return "", &FetchError{
			Status: http.StatusUnprocessableEntity,
			AppError: model.AppError{
				Code:    "FETCH_INVALID_UTF8",
				Message: "节点源内容不是合法 UTF-8 文本",
				Stage:   stage,
				URL:     rawURL,
			},
		}
	}

	return string(body), nil
}
