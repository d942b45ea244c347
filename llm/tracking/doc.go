/*
包 tracking 定义降级调用的追踪事件以及事件投递。

每次尝试（成功或失败）产生一个 [Event]，一次顶层调用的所有事件共享同一个
TrackID。[Emitter] 把事件分发给若干 [Sink]，投递过程不会阻塞请求路径，
Sink 的 panic 也不会影响请求结果。

内置 Sink：

  - [ZapSink]：结构化日志
  - [RedisSink]：通过 Redis PUBLISH 推送 JSON 事件
  - [Recorder]：内存记录，主要用于测试
*/
package tracking
