// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 anthropic 提供 Anthropic Claude 系列模型的后端适配实现，
将统一文本请求映射到 Messages API（/v1/messages）。

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token）
  - system 提示单独传递到 system 字段
  - 消息 content 为数组形式，图片使用 url 或 base64 source
  - 流式 SSE 事件结构独立（message_start / content_block_delta / message_delta）
  - 用量分两段上报：输入 token 在 message_start，输出 token 在 message_delta

# 支持能力

  - 文本生成与流式输出
  - 不支持图片生成，GenerateImage 立即返回不支持错误
*/
package anthropic
