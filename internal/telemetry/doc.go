// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 cadflow 提供 TracerProvider 和 MeterProvider（OTLP gRPC 导出）。
// 启用时 Observer 以 OTel 指标记录流水线观测数据。
package telemetry
