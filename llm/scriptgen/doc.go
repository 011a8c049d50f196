// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package scriptgen 提供"提示词 → 参数化 CAD 脚本"的生成客户端。

# 概述

每个生成器持有自己的 ClientConfig（BaseURL、Timeout、APIKey、Model），
不存在进程级共享客户端。所有调用均带超时，失败不自动重试。

# 核心接口

  - Generator: Generate(ctx, PromptRequest) (*GeneratedScript, error)

# 后端实现

  - GeminiGenerator: Gemini generateContent REST API
  - OllamaGenerator: 本地 Ollama（github.com/ollama/ollama/api）
  - RemoteGenerator: 任意实现 POST /generate-models 的服务

# 错误分类

传输失败 → UNREACHABLE，超时 → TIMEOUT，401/403 → FORBIDDEN，
404 → NOT_FOUND，5xx → UPSTREAM_ERROR，空响应或无法解析 → MALFORMED。
所有错误均标记 Stage = generate。响应中的 markdown 代码块标记会被剥离。
*/
package scriptgen
