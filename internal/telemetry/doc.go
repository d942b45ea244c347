// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 通过 OTLP gRPC 导出 span 与指标，并安装为全局 provider。
// 关闭时返回 noop 实现，不连接任何外部服务。
package telemetry
