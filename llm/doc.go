// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义后端能力接口与后端注册表，是降级调度层和各厂商适配器之间的契约。

# 概述

每个后端（OpenAI、Anthropic、Gemini 以及 OpenAI 兼容服务）都以 [Provider]
的形式暴露文本生成、流式文本生成与图片生成三种操作。后端不支持的操作
立即返回 UNSUPPORTED_OPERATION 错误，调度层据此跳过而不重试。

# 注册表

[Registry] 按后端标识登记构造函数与静态能力声明。首次 Resolve 时才真正
构造实例，成功的实例在进程内缓存；构造失败（如缺少凭证）不缓存，
下一次调用会重新尝试。

# 核心类型

  - [Provider]：后端能力接口（Generate / GenerateStream / GenerateImage）
  - [Capabilities]：静态能力声明，用于配置期校验与流式过滤
  - [Operation]：操作类别（text / object / image / stream）
  - [Registry]：惰性构造、按进程缓存的后端注册表
  - [EnvCredentials]：基于环境变量与 .env 文件的凭证解析
*/
package llm
