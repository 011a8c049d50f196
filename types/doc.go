// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 CADFlow 管线的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 mesh、pipeline、viewer、
api 等上层模块提供统一的错误契约与 context 传播键。

# 核心类型

  - Error / ErrorCode: 结构化错误，含 HTTP 状态码、Retryable、Stage 标记
  - Stage: 错误来源阶段（generate / convert / publish / fetch / decode）

# 主要能力

  - 错误工具链：AsError / GetErrorCode / GetStage / IsCode / IsRetryable
  - Context 传播：WithRequestID / WithFingerprint
*/
package types
