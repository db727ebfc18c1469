// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 AgentGraph 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 定义文件: DefinitionDir / WriteDefinition，为目录加载与热更新测试准备文件
  - 异步辅助: WaitFor / WaitForChannel
  - 数据工具: MustJSON

# 子包

  - testutil/mocks: MockBackend（按脚本回放推理响应，支持工具调用、
    错误、取消与静默超时）和 ToolRecorder（记录工具调用）
*/
package testutil
