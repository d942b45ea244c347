package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/aifallback/api"
	"github.com/BaSui01/aifallback/llm"
	"github.com/BaSui01/aifallback/llm/fallback"
	"github.com/BaSui01/aifallback/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// CredentialHeaderPrefix 单次请求的后端凭据覆盖，后接后端 id，
// 例如 X-Upstream-Api-Key-openai。每个 key 只交给对应的后端。
const CredentialHeaderPrefix = "X-Upstream-Api-Key-"

// =============================================================================
// 🤖 生成接口 Handler
// =============================================================================

// GenerateHandler 文本、结构化对象、图片与流式生成接口处理器
type GenerateHandler struct {
	dispatcher   *fallback.Dispatcher
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewGenerateHandler 创建生成处理器
func NewGenerateHandler(dispatcher *fallback.Dispatcher, maxBodyBytes int64, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{
		dispatcher:   dispatcher,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(zap.String("component", "generate_handler")),
	}
}

// HandleText 处理文本生成请求
// @Summary 文本生成
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.TextRequest true "文本请求"
// @Success 200 {object} api.TextResponse
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "全部后端失败"
// @Router /v1/text [post]
func (h *GenerateHandler) HandleText(w http.ResponseWriter, r *http.Request) {
	req, ctx, cancel, ok := h.decodeText(w, r)
	if !ok {
		return
	}
	defer cancel()

	res, err := h.dispatcher.GenerateText(ctx, req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.TextResponse{
		TrackID: res.TrackID,
		Backend: res.Backend,
		Model:   res.Model,
		Text:    res.Text,
		Usage:   res.Usage,
	})
}

// HandleObject 处理结构化对象请求，data 为后端返回的 JSON
// @Summary 结构化对象生成
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.TextRequest true "文本请求"
// @Success 200 {object} api.ObjectResponse
// @Router /v1/object [post]
func (h *GenerateHandler) HandleObject(w http.ResponseWriter, r *http.Request) {
	req, ctx, cancel, ok := h.decodeText(w, r)
	if !ok {
		return
	}
	defer cancel()

	res, err := h.dispatcher.GenerateJSON(ctx, req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.ObjectResponse{
		TrackID: res.TrackID,
		Backend: res.Backend,
		Model:   res.Model,
		Data:    res.Object,
		Raw:     res.Raw,
		Usage:   res.Usage,
	})
}

// HandleImage 处理图片生成请求
// @Summary 图片生成
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.ImageRequest true "图片请求"
// @Success 200 {object} api.ImageResponse
// @Router /v1/image [post]
func (h *GenerateHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var body api.ImageRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if err := body.Validate(); err != nil {
		WriteError(w, r, invalidRequest(err), h.logger)
		return
	}
	req, err := body.ToFallback()
	if err != nil {
		WriteError(w, r, invalidRequest(err), h.logger)
		return
	}
	ctx, cancel, err := h.requestContext(r, body.Options)
	if err != nil {
		WriteError(w, r, invalidRequest(err), h.logger)
		return
	}
	defer cancel()

	res, err := h.dispatcher.GenerateImage(ctx, req)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	WriteSuccess(w, r, api.ImageResponse{
		TrackID:  res.TrackID,
		Backend:  res.Backend,
		Model:    res.Model,
		ImageURL: res.ImageURL,
		Usage:    res.Usage,
	})
}

// HandleStream 处理 SSE 流式请求，事件名为分片类型
// @Summary 流式文本生成
// @Tags 生成
// @Accept json
// @Produce text/event-stream
// @Param request body api.TextRequest true "文本请求"
// @Success 200 {string} string "SSE 流"
// @Router /v1/stream [post]
func (h *GenerateHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, r, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	req, ctx, cancel, ok := h.decodeText(w, r)
	if !ok {
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range h.dispatcher.StreamText(ctx, req) {
		payload, err := json.Marshal(api.NewStreamChunk(chunk))
		if err != nil {
			h.logger.Error("failed to encode chunk", zap.Error(err))
			continue
		}
		if _, err := w.Write([]byte("event: " + string(chunk.Kind) + "\ndata: ")); err != nil {
			// 客户端断开，取消 ctx 后流会自行关闭
			cancel()
			continue
		}
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

// HandleStreamWS 处理 WebSocket 流式请求。
// 客户端连接后先发送一条 api.TextRequest，服务端逐条推送分片，结束后正常关闭。
// @Summary WebSocket 流式文本生成
// @Tags 生成
// @Router /v1/stream/ws [get]
func (h *GenerateHandler) HandleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	if h.maxBodyBytes > 0 {
		conn.SetReadLimit(h.maxBodyBytes)
	}

	ctx := r.Context()
	var body api.TextRequest
	if err := wsjson.Read(ctx, conn, &body); err != nil {
		conn.Close(websocket.StatusUnsupportedData, "invalid request")
		return
	}
	req, err := textRequest(&body)
	if err != nil {
		_ = wsjson.Write(ctx, conn, api.StreamChunk{Kind: string(fallback.ChunkFailed), Error: err.Error(), ErrorCode: string(types.ErrInvalidRequest)})
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	ctx, cancel, err := h.requestContext(r, body.Options)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	defer cancel()

	for chunk := range h.dispatcher.StreamText(ctx, req) {
		if err := wsjson.Write(ctx, conn, api.NewStreamChunk(chunk)); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			cancel()
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// decodeText 解码并校验文本请求，失败时已写出错误响应
func (h *GenerateHandler) decodeText(w http.ResponseWriter, r *http.Request) (fallback.TextRequest, context.Context, context.CancelFunc, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return fallback.TextRequest{}, nil, nil, false
	}

	var body api.TextRequest
	if err := DecodeJSONBody(w, r, &body, h.maxBodyBytes, h.logger); err != nil {
		return fallback.TextRequest{}, nil, nil, false
	}
	req, err := textRequest(&body)
	if err != nil {
		WriteError(w, r, invalidRequest(err), h.logger)
		return fallback.TextRequest{}, nil, nil, false
	}
	ctx, cancel, err := h.requestContext(r, body.Options)
	if err != nil {
		WriteError(w, r, invalidRequest(err), h.logger)
		return fallback.TextRequest{}, nil, nil, false
	}
	return req, ctx, cancel, true
}

func textRequest(body *api.TextRequest) (fallback.TextRequest, error) {
	if err := body.Validate(); err != nil {
		return fallback.TextRequest{}, err
	}
	return body.ToFallback()
}

// requestContext 附加请求超时与凭据覆盖
func (h *GenerateHandler) requestContext(r *http.Request, opts api.Options) (context.Context, context.CancelFunc, error) {
	timeout, err := opts.ParseTimeout()
	if err != nil {
		return nil, nil, err
	}
	overrides, err := h.credentialOverrides(r.Header)
	if err != nil {
		return nil, nil, err
	}

	ctx := llm.WithCredentialOverrides(r.Context(), overrides)
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, nil
}

// credentialOverrides 解析按后端区分的凭据头，后端 id 不区分大小写匹配
func (h *GenerateHandler) credentialOverrides(header http.Header) (map[string]llm.CredentialOverride, error) {
	if header.Get(strings.TrimSuffix(CredentialHeaderPrefix, "-")) != "" {
		return nil, fmt.Errorf("header %q is not scoped to a backend, use %s<backend>",
			strings.TrimSuffix(CredentialHeaderPrefix, "-"), CredentialHeaderPrefix)
	}

	var out map[string]llm.CredentialOverride
	for name, values := range header {
		if len(name) <= len(CredentialHeaderPrefix) || !strings.EqualFold(name[:len(CredentialHeaderPrefix)], CredentialHeaderPrefix) {
			continue
		}
		key := ""
		if len(values) > 0 {
			key = strings.TrimSpace(values[0])
		}
		if key == "" {
			continue
		}
		id, ok := h.backendID(name[len(CredentialHeaderPrefix):])
		if !ok {
			return nil, fmt.Errorf("header %q names an unknown backend", name)
		}
		if out == nil {
			out = make(map[string]llm.CredentialOverride)
		}
		out[id] = llm.CredentialOverride{APIKey: key}
	}
	return out, nil
}

func (h *GenerateHandler) backendID(suffix string) (string, bool) {
	for _, id := range h.dispatcher.Registry().IDs() {
		if strings.EqualFold(id, suffix) {
			return id, true
		}
	}
	return "", false
}
