/*
Package ports defines the driven ports (interfaces) of the iafsm engine.

These interfaces decouple the orchestration core from its collaborators, so the
engine can run against Redis or in-memory stores, real HTTP APIs or test
doubles, and file or loam configuration sources.

# Key Interfaces

  - StateProvider / APIProvider: read-only access to state and API configuration.
  - APICaller / APIDispatcher: synchronous and fire-and-forget external calls.
  - ScriptRunner: executes user-supplied script functions.
  - Renderer: renders templates and extracts their placeholder names.
  - SessionStore: persists sessions with a TTL.
  - StreamTransport: consumer-group reads over response channels.
  - DistributedLocker: serializes turns for a session across replicas.
*/
package ports
