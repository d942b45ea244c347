package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/BaSui01/aifallback/types"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error
func MapHTTPError(status int, msg string, provider string) *types.Error {
	e := types.NewError(types.ErrUpstreamError, msg).
		WithHTTPStatus(status).
		WithProvider(provider)

	switch status {
	case http.StatusUnauthorized:
		e.Code = types.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = types.ErrForbidden
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") || strings.Contains(lower, "billing") {
			e.Code = types.ErrQuotaExceeded
		} else {
			e.Code = types.ErrInvalidRequest
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code = types.ErrUpstreamTimeout
		e.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		e.Retryable = true
	case 529: // Model overloaded
		e.Code = types.ErrModelOverloaded
		e.Retryable = true
	default:
		e.Retryable = status >= 500
	}
	return e
}

// TransportError 映射请求未得到响应时的错误。
// 取消经 Unwrap 保留；超时只保留消息，避免被当作调用方 ctx 结束而停止重试。
// TruncatedStreamError 流在终止标记前断开：已输出的内容不完整，按可重试失败处理
func TruncatedStreamError(provider string) *types.Error {
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("%s stream ended before completion", provider)).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider).
		WithCause(ErrSSETruncated)
}

func TransportError(err error, provider string) *types.Error {
	e := types.NewError(types.ErrUpstreamError, fmt.Sprintf("%s request failed", provider)).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider)

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		e.Cause = err
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		e.Code = types.ErrUpstreamTimeout
		e.Message = fmt.Sprintf("%s request timed out: %v", provider, err)
	default:
		e.Cause = err
	}
	return e
}

// DecodeError 映射响应体无法解析的错误
func DecodeError(err error, provider string) *types.Error {
	return types.NewError(types.ErrUpstreamError, fmt.Sprintf("invalid %s response", provider)).
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider)
}

// ReadErrorMessage 读取响应体中的错误消息与上游错误码
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) (string, string) {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response", ""
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		vendor := errResp.Error.Type
		switch c := errResp.Error.Code.(type) {
		case string:
			if c != "" {
				vendor = c
			}
		case float64:
			vendor = fmt.Sprintf("%.0f", c)
		}
		if vendor == "" {
			vendor = errResp.Error.Status
		}
		return errResp.Error.Message, vendor
	}
	return strings.TrimSpace(string(data)), ""
}

// ResponseError 读取错误响应并映射为 types.Error
func ResponseError(resp *http.Response, provider string) *types.Error {
	msg, vendor := ReadErrorMessage(resp.Body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return MapHTTPError(resp.StatusCode, msg, provider).WithVendorCode(vendor)
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
