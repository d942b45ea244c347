/*
Package testutil 提供测试共享的工具函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 通道辅助: Collect / WaitForChannel，用于流式输出测试
  - 重试辅助: NoSleep / SleepRecorder，跳过退避等待

# 子包

  - testutil/mocks: 可编排的 MockProvider，按顺序返回预设的文本、流与图片结果
*/
package testutil
