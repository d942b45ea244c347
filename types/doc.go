// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 aifallback 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、fallback、tracking、
api 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，区分不支持操作、缺失凭证、上游错误、
    输出格式错误、配置错误与全部失败
  - Message / ContentPart：对话消息，内容为有序的文本或图片片段
  - Usage：单次调用的 Token 用量，显式标记上游是否上报

# 主要能力

  - 错误判定：IsUnsupported / IsMissingCredential / IsConfiguration / IsRetryable
  - Context 传播：WithTrackID / WithCaller
*/
package types
