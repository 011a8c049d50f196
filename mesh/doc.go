// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

/*
Package mesh 实现二进制 STL 网格格式的编解码。

# 概述

布局：80 字节头部、uint32 小端三角面数量，随后每个三角面 50 字节
（法向量 + 三个顶点共 12 个 float32，以及 uint16 属性字节数）。

Decode 在分配内存之前校验声明数量与缓冲区长度，永不越界、永不 panic；
Encode 输出确定性字节序列，Decode(Encode(x)) 对任意非 NaN 输入按位还原。

# 核心类型

  - Triangle: 单个三角面
  - DecodeError: Truncated / Malformed 两类解码错误
  - Box: 轴对齐包围盒

# 主要能力

  - Encode / EncodeTo / Decode / ReadTriangleCount
  - Bounds / FaceNormal / WithNormals / Cube
*/
package mesh
