// Copyright (c) CADFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 为生成服务、几何内核、Viewer 客户端及 Redis 镜像提供
// 统一的安全加固 TLS 与 HTTP 传输配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
