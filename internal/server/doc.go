// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package server 管理 HTTP 服务器的生命周期。

# 概述

Manager 封装 net/http.Server：Start 非阻塞监听，Run 阻塞直到 context
结束或服务出错，随后在 ShutdownTimeout 内优雅关闭。cadflow serve 用
errgroup 同时运行 API 与 metrics 两个 Manager。

# 核心类型

  - Manager: 监听、服务、关闭与异步错误传播
  - Config: 地址、读写/空闲超时、请求头上限、可选 TLS 证书
*/
package server
