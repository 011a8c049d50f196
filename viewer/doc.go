// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package viewer 实现客户端的网格获取、解码与渲染管线。

# 概述

Viewer 把一次提交拆成三个阶段：通过 Client 调用后端（生成或直接转换），
在调用方 goroutine 上解码 STL 并构建 Geometry，最后通过原子指针交给
RenderSession 的帧循环。渲染循环从不做网络 I/O。

会话状态由 Transition 这个全函数描述：

	Idle/Ready/Error --Submit--> Loading
	Loading --Submit--> Loading
	Loading --ArtifactReceived--> Ready
	Idle/Loading --Failure--> Error
	任意状态 --Reset--> Idle

每次提交分配新的代数，旧代数的结果被丢弃（后提交者胜），但不会取消
服务端仍在进行的去重任务。

# 核心类型

  - Session: 状态机、代数计数与最近的错误
  - Client: {BaseURL, Timeout} 显式配置的 HTTP 客户端，错误分为
    NetworkUnreachable / ServerError / NotFound / Forbidden / Unknown
  - Geometry: 交错的位置与法线缓冲以及包围盒
  - Scene: 环境光、点光源、透视相机与 OrbitControls
  - RenderSession: Start/Stop 生命周期的定时帧循环，输出到 FrameSink
  - Watch: 订阅 /artifacts/events 自动刷新
*/
package viewer
