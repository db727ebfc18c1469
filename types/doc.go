/*
Package types holds the shared contracts of agentgraph.

It is the lowest package in the module and imports no other agentgraph
package, so workflow, llm, inference and api can all depend on it.

  - Message / Role / ToolCall: conversation turns exchanged with a model
  - Tool / ToolSchema: workflow-local tools and the definitions sent to a model
  - Error / ErrorCode: structured errors carrying an HTTP status and retry flag
  - WithRunID / WithWorkflowID / WithNodeID / WithTraceID: context propagation
*/
package types
