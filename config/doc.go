// Package config 提供 AgentGraph 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、配置校验，
// 以及供工作流定义目录热加载使用的文件监听器。
package config
