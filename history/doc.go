// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package history persists workflow run records.

A RunRecord is the storable form of a workflow.RunReport. Stores save a run
twice: once when it starts (status running) and once when it ends. Saving is
an upsert keyed by run id, so the second write replaces the first.

Implementations:

  - MemoryStore: bounded in-process store, oldest runs evicted first.
  - SQLStore: gorm tables workflow_runs and workflow_node_runs.
  - RedisStore: JSON documents with optional TTL plus sorted-set indexes.
  - MongoStore: one document per run.

Multi fans writes and purges out to several stores and reads from the first
one that has the run. Recorder adapts a Store to workflow.HistoryRecorder and
Janitor purges finished runs older than a retention window.
*/
package history
