// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 提供 OpenAI 官方后端，基于 github.com/sashabaranov/go-openai
客户端实现 Chat Completions、流式输出与图片生成。

# 核心结构体

  - Provider：实现 llm.Provider，内部持有 go-openai 客户端

# 支持能力

  - 文本生成（/v1/chat/completions，支持 JSON mode）
  - 流式输出（stream_options.include_usage，末尾 chunk 携带用量）
  - 图片生成（/v1/images/generations，b64_json 结果转换为 data URL）
  - Organization header
  - CredentialOverride 运行时凭证覆盖（按 key 缓存客户端）

参考图需要 edits 接口，本后端不处理，带参考图的请求直接返回
INVALID_REQUEST 以便回退到下一个后端。
*/
package openai
