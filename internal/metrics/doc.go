// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的指标采集。

# 概述

Collector 同时实现 tracking.Sink，把每条尝试事件转换为计数器与直方图。
注册表由调用方注入，测试中可以使用独立的 prometheus.NewRegistry。

# 主要指标

  - backend_attempts_total：按 backend/operation/status 计数，
    成功为 ok，失败为错误码。
  - backend_attempt_duration_seconds：单次尝试耗时。
  - backend_retries_total：重试序号大于 0 的尝试。
  - backend_tokens_used_total：仅统计后端真实上报的用量。
  - fallback_exhausted_total：全部后端失败的调用。
  - http_requests_total / http_request_duration_seconds：HTTP 层指标。
*/
package metrics
