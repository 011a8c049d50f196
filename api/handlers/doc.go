// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CADFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现文本生成模型、脚本转换、网格获取、发布事件与健康检查
端点。所有 Handler 遵循标准 net/http 接口，JSON 响应统一使用
Response 信封，网格以 model/stl 二进制直接返回。

# 核心类型

  - ModelHandler: /ping、/generate-models、/generate、/convert、/render-model
  - EventsHandler: /artifacts/events WebSocket 发布事件推送
  - HealthHandler: /health、/healthz、/ready、/version；就绪探针并发执行，
    可选探针失败只降级为 degraded
  - Response: 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo: 结构化错误信息，含 code、stage、retryable
  - ResponseWriter: 包装 http.ResponseWriter 以捕获状态码与字节数

# 错误映射

HTTPStatus 把 types.Error 映射为状态码。生成或转换阶段的协作方失败
统一返回 502，超时 504，工作池饱和 503，请求本身的问题返回 4xx。
*/
package handlers
