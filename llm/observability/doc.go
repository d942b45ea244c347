/*
包 observability 把追踪事件接入 OpenTelemetry。

Sink 实现 tracking.Sink：每条尝试事件累加 llm.attempt.total、
llm.error.total 与 llm.attempt.duration，后端真实上报用量时累加
llm.token.total，终止事件累加 llm.fallback.exhausted。每条事件同时
回填一个 span，起止时间取自事件本身。

TracerProvider 与 MeterProvider 默认取 otel 全局实例，由
internal/telemetry.Init 负责安装。
*/
package observability
