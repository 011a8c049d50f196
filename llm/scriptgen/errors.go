package scriptgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/cadflow/types"
)

const maxErrorBody = 4 << 10

// classifyStatus maps a non-2xx upstream status to a generation error.
func classifyStatus(status int, msg, provider string) *types.Error {
	var code types.ErrorCode
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = types.ErrForbidden
	case status == http.StatusNotFound:
		code = types.ErrNotFound
	case status == http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case status >= 500:
		code = types.ErrUpstreamError
		retryable = true
	default:
		code = types.ErrGenerationFailed
	}
	return types.NewError(code, fmt.Sprintf("%s returned %d: %s", provider, status, msg)).
		WithRetryable(retryable).
		WithStage(types.StageGenerate).
		WithProvider(provider)
}

// classifyTransport maps a failed round trip. Caller cancellation is returned
// as is so it is not mistaken for a collaborator failure.
func classifyTransport(ctx context.Context, err error, provider string) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return types.NewError(types.ErrTimeout, provider+" did not answer in time").
			WithCause(err).
			WithStage(types.StageGenerate).
			WithProvider(provider)
	}
	return types.NewError(types.ErrUnreachable, provider+" unreachable").
		WithCause(err).
		WithRetryable(true).
		WithStage(types.StageGenerate).
		WithProvider(provider)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func malformed(provider, msg string, cause error) *types.Error {
	return types.NewError(types.ErrMalformed, provider+": "+msg).
		WithCause(cause).
		WithStage(types.StageGenerate).
		WithProvider(provider)
}

// readErrorMessage extracts {"error": "..."} or {"error": {"message": "..."}}
// and falls back to the raw body.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &flat) == nil {
		if flat.Error != "" {
			return flat.Error
		}
		if flat.Detail != "" {
			return flat.Detail
		}
	}
	return strings.TrimSpace(string(data))
}
