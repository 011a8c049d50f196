// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package artifact 保存并分发转换得到的网格产物。

# 概述

Server 通过 atomic.Pointer 持有"最新"产物，读者不会观察到半写状态；
同时按指纹建立有界索引（MaxKeyed，最早发布者先淘汰）。每次发布都会
向订阅者广播 Event，供 /artifacts/events WebSocket 端点推送。

# 核心类型

  - Artifact: 不可变的 STL 字节及三角面数量
  - Server: Publish / Fetch / Subscribe
  - RedisMirror: 可选的 Redis 镜像（带 TTL），供多副本按指纹取回

本地内存始终是"最新"产物的权威来源，镜像失败只记录日志。
*/
package artifact
