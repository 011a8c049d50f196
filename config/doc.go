// Package config 提供 CADFlow 的配置管理功能。
//
// Loader 按 默认值 → YAML 文件 → CADFLOW_ 前缀环境变量 → 验证器 的顺序构建
// Config；Watcher 基于 fsnotify 监听配置文件并在变更后重新加载，
// 命令行入口用它热更新日志级别。
package config
