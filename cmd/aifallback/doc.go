// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 aifallback 的可执行入口。

# 子命令

  - serve     启动 HTTP 服务（chi 路由、SSE 与 WebSocket 流、/metrics）
  - generate  命令行单次生成，支持 --stream、--object、--image
  - health    请求 /readyz 检查就绪状态
  - version   打印通过 ldflags 注入的版本信息

# 中间件

chi 自带 RequestID、RealIP、Recoverer，之后依次是 SecurityHeaders、
RequestLogger；/v1 路由组额外挂 MetricsMiddleware 与 OTelTracing。
包装器基于 chi 的 WrapResponseWriter，保留 Flusher 与 Hijacker。

# 关闭

收到 SIGINT/SIGTERM 后 ctx 结束，server.Manager 在 ShutdownTimeout 内
等待进行中的请求，随后刷新追踪队列并关闭 Redis 与遥测导出器。
*/
package main
