package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"signalpush/internal/domain"
)

// Classify maps a provider SDK error onto the extraction error taxonomy.
// Structured errors (googleapi, gRPC status) are checked first; OpenAI-style
// SDK errors only carry the status in their message, so text is the fallback.
func Classify(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	var ee *domain.ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrTransient
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if kind, ok := classifyHTTPStatus(gerr.Code, gerr.Message); ok {
			return kind
		}
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return domain.ErrQuota
		case codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
			return domain.ErrConfig
		case codes.InvalidArgument:
			if mentionsCredentials(st.Message()) {
				return domain.ErrConfig
			}
			return domain.ErrTransient
		default:
			return domain.ErrTransient
		}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		return domain.ErrTransient
	}

	return classifyText(err.Error())
}

func classifyHTTPStatus(code int, msg string) (domain.ErrorKind, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.ErrQuota, true
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusNotFound:
		return domain.ErrConfig, true
	case code == http.StatusBadRequest && mentionsCredentials(msg):
		return domain.ErrConfig, true
	case code >= 500, code == http.StatusRequestTimeout:
		return domain.ErrTransient, true
	}
	return "", false
}

func classifyText(msg string) domain.ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "429"), strings.Contains(m, "quota"),
		strings.Contains(m, "rate limit"), strings.Contains(m, "resource exhausted"),
		strings.Contains(m, "resource_exhausted"):
		return domain.ErrQuota
	case strings.Contains(m, "401"), strings.Contains(m, "403"),
		strings.Contains(m, "unauthorized"), strings.Contains(m, "permission denied"),
		mentionsCredentials(m),
		strings.Contains(m, "model") && (strings.Contains(m, "not found") || strings.Contains(m, "404") || strings.Contains(m, "does not exist")):
		return domain.ErrConfig
	default:
		return domain.ErrTransient
	}
}

func mentionsCredentials(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key") || strings.Contains(m, "api_key") ||
		strings.Contains(m, "invalid authentication") || strings.Contains(m, "incorrect api key")
}

func classified(name string, err error) error {
	return &domain.ExtractionError{Kind: Classify(err), Provider: name, Err: err}
}
