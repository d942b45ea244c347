// Package config 提供 aifallback 的配置管理功能。
//
// 配置优先级：默认值 → YAML 文件 → 环境变量（AIFALLBACK_ 前缀）。
// 后端表 backends 只能来自 YAML；环境变量覆盖标量与逗号分隔的字符串切片。
package config
