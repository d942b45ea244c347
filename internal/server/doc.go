// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理：非阻塞启动、按 context 运行与优雅关闭。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、请求头上限与关闭超时。
    FromServerConfig 由 config.ServerConfig 构造。

# 运行模型

Run 在 ctx 结束或服务异常退出时返回，返回前在 ShutdownTimeout 内
排空进行中的请求。信号处理由调用方通过 signal.NotifyContext 完成。
WriteTimeout 为 0 时不限制写超时，SSE 与 WebSocket 长连接依赖这一点。
*/
package server
