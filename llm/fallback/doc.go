// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 fallback 实现按序降级的模型调用调度。

# 概述

[Dispatcher] 接收一次文本、结构化对象、图片或流式文本请求，按降级顺序
依次尝试各个后端。每个后端先按重试策略重试，重试耗尽后切换到下一个后端；
全部失败时返回最后一个错误。每次尝试都会产生一个追踪事件，同一次调用的
事件共享一个 TrackID。

# 一次性操作

  - [Dispatcher.GenerateText]：文本生成
  - [GenerateObject]：文本生成后解析 JSON，解析失败与传输失败同样参与重试和降级
  - [Dispatcher.GenerateImage]：图片生成，降级顺序中包含不支持图片的后端时
    在任何尝试之前直接返回配置错误

# 流式操作

[Dispatcher.StreamText] 返回一个 [StreamChunk] 通道。中途失败的后端产生一个
ChunkSegmentFailed 分片（携带已输出的部分文本），随后从头开始尝试下一个后端。
通道总是以 ChunkDone 或 ChunkFailed 结束并关闭，不会以错误形式抛出。
*/
package fallback
