// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package handlers 提供 aifallback HTTP API 的请求处理器实现。

# 核心类型

  - GenerateHandler  文本、结构化对象、图片、SSE 与 WebSocket 流式生成
  - HealthHandler    存活与就绪探针，就绪检查可插拔
  - Response         统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   包装 http.ResponseWriter 以捕获状态码

# 错误映射

WriteError 按 types.ErrorCode 映射 HTTP 状态码。上游错误携带的状态码
属于上游，不直接透传给调用方。
*/
package handlers
