package runtime

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Classify maps a provider error onto an ErrorKind.
func Classify(err error) *TurnError {
	if err == nil {
		return nil
	}

	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnErr
	}

	if errors.Is(err, ErrMalformedOutput) {
		return &TurnError{Kind: KindModelBehavior, Detail: "model output could not be interpreted", Err: err}
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return classifyStatus(anthropicErr.StatusCode, strings.ToLower(err.Error()), err)
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		text := strings.ToLower(strings.Join([]string{openaiErr.Code, openaiErr.Type, openaiErr.Message, err.Error()}, " "))
		return classifyStatus(openaiErr.StatusCode, text, err)
	}

	if errors.Is(err, context.Canceled) {
		return &TurnError{Kind: KindUnexpected, Detail: "request cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TurnError{Kind: KindConnection, Detail: "model request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TurnError{Kind: KindConnection, Detail: "model service unreachable", Err: err}
	}

	return &TurnError{Kind: KindUnexpected, Detail: "unexpected model runtime failure", Err: err}
}

func classifyStatus(status int, text string, err error) *TurnError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &TurnError{Kind: KindAuthentication, Detail: "model API rejected the credentials", Err: err}
	case status == http.StatusTooManyRequests:
		if strings.Contains(text, "quota") {
			return &TurnError{Kind: KindQuotaExceeded, Detail: "model API usage quota exhausted", Err: err}
		}
		return &TurnError{Kind: KindRateLimited, Detail: "model API rate limit reached", Err: err}
	case strings.Contains(text, "credit balance"):
		return &TurnError{Kind: KindQuotaExceeded, Detail: "model API credit exhausted", Err: err}
	case status >= http.StatusInternalServerError:
		return &TurnError{Kind: KindConnection, Detail: "model service unavailable", Err: err}
	default:
		return &TurnError{Kind: KindUnexpected, Detail: "model API request failed", Err: err}
	}
}
