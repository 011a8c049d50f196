// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 CADFlow 服务端与命令行入口。

# 概述

cmd/cadflow 把脚本生成、几何内核、去重缓存、产物服务与查看器客户端
装配成一个可执行程序。程序支持 YAML 配置加载、结构化日志（zap）、
Prometheus 指标、OpenTelemetry 追踪以及日志级别热更新。

# 核心类型

  - Server: 主服务器，管理 API、Metrics 双端口及优雅关闭
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler
  - stack: serve、generate、convert 共用的后端组件

# 主要能力

  - 子命令：serve、generate、convert（errgroup 并发批量转换）、
    view（无窗口渲染循环，可 --follow 跟随发布事件）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTelTracing、CORS、RateLimiter（基于 IP）、MaxBody
  - 配置热重载：config.Watcher 监听文件变更，日志级别即时生效
  - 就绪检查：启用 Redis 镜像时 /ready 会探测 Redis
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
