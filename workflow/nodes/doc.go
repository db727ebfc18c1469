// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package nodes provides the built-in node executors of the workflow engine.

# Node types

  - trigger: emits the run's trigger message
  - text: emits a configured text, optionally interpolating its input
  - javascript: runs a named scripted transform; its value is reflected
    to the out-string / out-toolset handles by the runner
  - inference: asks a model through Deps.Inference, with tool calling
  - chatOutput: forwards its input as the run's final output
  - toolset: emits a collection of tools from a ToolCatalog

RegisterBuiltins installs all of them on a workflow.ExecutorRegistry.
OrchestratorRunner adapts a tools.Orchestrator to workflow.InferenceRunner
so inference nodes can run the tool-calling loop.
*/
package nodes
