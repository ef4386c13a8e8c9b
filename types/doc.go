/*
Package types provides the shared type definitions for ReviewFlow.

types is the lowest-level public package and depends on no internal
package. It defines the type contracts shared by the coordinator,
stores, engine bridge, and API layers to avoid circular dependencies.

Core types:

  - Task / Conversation          — durable workflow execution records
  - Deliverable / DeliverableVersion — reviewable output and its history
  - CreationKind                 — how a version came to exist
  - Decision / DecisionRequest   — human review decisions and validation
  - RunResult / Pause            — tagged engine run outcome
  - Content                      — opaque content blob with title extraction
  - Error / ErrorCode            — structured error taxonomy with HTTP mapping
*/
package types
