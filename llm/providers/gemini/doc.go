// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 gemini 提供 Google Gemini 后端，基于 google.golang.org/genai 客户端
（Gemini Developer API）实现文本、流式与原生图片生成。

# 核心结构体

  - Provider：实现 llm.Provider，按 API key 缓存 genai.Client

# 支持能力

  - 文本生成（Models.GenerateContent，JSON 模式使用 application/json 响应类型）
  - 流式输出（Models.GenerateContentStream，用量取最后一个分片）
  - 图片生成（responseModalities=IMAGE，参考图作为输入 Part）
  - 思考 token 计入 ReasoningTokens
  - CredentialOverride 运行时凭证覆盖
*/
package gemini
