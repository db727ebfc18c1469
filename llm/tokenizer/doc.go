// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken cl100k_base 精确计数与 CJK 感知的估算器，
// 用于 token 计数接口与推理节点的提示词规模日志。
package tokenizer
