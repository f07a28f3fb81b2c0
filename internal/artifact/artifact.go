// Package artifact encodes the aggregated node list into the subscription
// file format consumed by proxy clients: newline-joined links, base64 as the
// whole file body.
package artifact

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/submerge-go/internal/model"
)

type WriteError struct {
	AppError model.AppError
	Cause    error
}

func (e *WriteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

func newWriteError(path, code, message string, cause error) *WriteError {
	return &WriteError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "write_artifact",
			URL:     path,
		},
		Cause: cause,
	}
}

// Encode joins the links with newlines and base64-encodes the result with
// the standard alphabet, padded.
func Encode(nodes []string) []byte {
	joined := strings.Join(nodes, "\n")
	out := make([]byte, base64.StdEncoding.EncodedLen(len(joined)))
	base64.StdEncoding.Encode(out, []byte(joined))
	return out
}

// Write replaces the file at path with data, creating the parent directory
// first.
func Write(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return newWriteError(path, "WRITE_FAILED", "创建输出目录失败", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return newWriteError(path, "WRITE_FAILED", "写入订阅文件失败", err)
	}
	return nil
}

// VerifySize reports the size of the written artifact. A missing or
// zero-byte file after a successful Write is an anomaly the caller logs; it
// is never fatal.
func VerifySize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, newWriteError(path, "VERIFY_FAILED", "订阅文件创建失败", err)
	}
	if fi.Size() == 0 {
		return 0, newWriteError(path, "VERIFY_FAILED", "订阅文件为空", errors.New("empty file"))
	}
	return fi.Size(), nil
}
