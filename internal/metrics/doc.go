// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package metrics 提供基于 Prometheus 的指标采集。

# 概述

Collector 使用 promauto 注册指标，按 namespace 隔离，并实现
pipeline.Observer，流水线各阶段直接向其上报。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 脚本生成：按 backend/outcome 计数与耗时。
  - 网格转换：按 kernel/outcome 计数与耗时。
  - 去重缓存：按 origin（created/joined/hit）计数；RegisterGauge 暴露在途任务数。
  - 产物：发布次数、STL 字节大小与三角面数量分布。
*/
package metrics
