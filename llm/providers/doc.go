// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供各后端适配器共享的基础能力：HTTP 客户端、错误映射、
SSE 解析与默认模型选择。具体后端位于子包：

  - openaicompat：任意 OpenAI 兼容服务，原生 HTTP + SSE，支持文本、流式与图片
  - openai：基于 github.com/sashabaranov/go-openai 的 OpenAI 官方后端
  - anthropic：Claude Messages API，原生 HTTP + SSE，仅文本与流式
  - gemini：基于 google.golang.org/genai 的 Gemini 后端，支持文本、流式与原生图片生成
  - flux：Black Forest Labs Flux，仅图片

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为 types.Error（含 Retryable 标记）
  - TransportError：网络层错误统一映射
  - ReadErrorMessage：解析常见 JSON 错误体
  - ScanSSE：逐事件读取 text/event-stream
  - NewHTTPClient：TLS 加固的 HTTP 客户端
*/
package providers
