// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package pipeline 串联"提示词 → 脚本 → 网格产物 → 发布"的完整流程。

# 概述

Converter 以脚本指纹为键，通过 dedup.Cache 保证同一脚本同一时刻只有
一次内核调用；内核失败映射为 CONVERSION_FAILED，超时映射为 TIMEOUT，
零三角面结果同样视为失败。Pipeline 在转换成功后将产物发布到
artifact.Server，失败时不发布任何内容。

# 核心类型

  - Converter: Convert(ctx, source) (*artifact.Artifact, error)
  - Pipeline: Generate / Run / ConvertAndPublish
  - Observer: 指标回调，由 internal/metrics.Collector 实现

各阶段均带 OpenTelemetry span（pipeline.generate / pipeline.convert）。
*/
package pipeline
