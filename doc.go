// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grimoire is a scriptable agent-orchestration runtime.
//
// Scripts drive agents, tools and workflows through a uniform component
// contract. The runtime enforces lifecycle state, intercepts every
// significant transition with a hook pipeline, routes changes through a
// correlated event bus, serves clients over the Jupyter 5.3 wire
// protocol, and persists component state across restarts with schema
// migration.
//
// The execution core lives under pkg/:
//
//   - component: the unified execute/validate/handle-error contract
//   - hooks, events, state, lifecycle: the interception substrate
//   - tool, agent, provider, workflow: the execution layers
//   - storage, session, schema: persistence and migration
//   - protocol, kernel: the wire surface and the integrated kernel
package grimoire
