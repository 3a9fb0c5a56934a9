package llm

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind classifies a provider failure for user-facing rephrasing.
type ErrorKind string

const (
	ErrorTimeout   ErrorKind = "timeout"
	ErrorRateLimit ErrorKind = "rate_limit"
	ErrorOther     ErrorKind = "other"
)

// ClassifyError maps a provider error to its kind. Raw provider text must
// never reach the user; callers pair the kind with UserMessage.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		return ErrorRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return ErrorTimeout
	default:
		return ErrorOther
	}
}

// UserMessage returns the fixed, actionable text shown to the user for a
// provider failure of the given kind.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case ErrorTimeout:
		return "AIモデルへの接続がタイムアウトしました。しばらく待ってからもう一度お試しください。"
	case ErrorRateLimit:
		return "AIモデルへのリクエストが混み合っています。少し時間をおいてからもう一度お試しください。"
	default:
		return "AIモデルの呼び出し中にエラーが発生しました。時間をおいて再度お試しいただくか、管理者にお問い合わせください。"
	}
}
