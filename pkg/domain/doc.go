/*
Package domain contains the core domain models of the iafsm orchestration engine.

It defines the conversational session, the static configuration of states and
API definitions, the ephemeral per-turn action plan and the results that
actions fold back into the session. The package is kept pure and free of I/O
so that every adapter (Redis, files, HTTP, MCP) can share the same vocabulary.

# Key Entities

  - Session: the persisted record of one conversation (current state, parameters,
    history and pending asynchronous responses).
  - StateConfig: a state's transitions, required parameters, entry actions and
    outbound payload templates.
  - ApiDefinition: how to call an external API and which outputs it produces.
  - Action: one planned API or script invocation for the current turn.
  - PendingResponse: an asynchronous dispatch awaiting its correlated response.
  - TurnResult: what a front-end receives after a turn is processed.
*/
package domain
