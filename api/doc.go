// Package api 定义 aifallback HTTP API 的请求与响应结构。
//
// # API Overview
//
//   - POST /v1/text    文本生成
//   - POST /v1/object  结构化 JSON 对象
//   - POST /v1/image   图片生成
//   - POST /v1/stream  SSE 流式文本，事件名为分片类型
//   - GET  /v1/stream/ws  WebSocket 流式文本，每条消息一个 JSON 分片
//   - GET  /healthz, /readyz, /metrics
//
// # Credentials
//
// 请求头 X-Upstream-Api-Key-<backend> 会作为本次请求中该后端的凭据覆盖，
// 只发给对应的后端，不会出现在日志与追踪事件中，也不会缓存到进程级实例。
// 不带后端后缀的 X-Upstream-API-Key 会被拒绝。
//
// # Base URL
//
//	http://localhost:8080
package api
