/*
Package iafsm is an action-orchestration engine for conversational state machines.

Each turn of a conversation carries an intent and some parameters. The engine
resolves the next state, collects the API and script actions owed by every
state the session enters (including states it skips over), orders them by
their data dependencies, runs the synchronous ones and dispatches the
asynchronous ones. Asynchronous results come back on stream consumer groups
and are correlated on later turns, or before the current turn renders its
reply when a wait policy asks for it.

# Configuration

A configuration directory holds states.{json,yaml} and api_definitions/*.{json,yaml},
plus scripts/ for script actions:

	{
	  "initial_state": "ask_city",
	  "states": {
	    "ask_city": {
	      "parameters": {"required": ["city"]},
	      "transitions": [{"next_state": "forecast", "condition": {"all_parameters_met": true}}]
	    },
	    "forecast": {
	      "on_entry": [{"type": "api", "id": "weather", "consumes": [{"name": "city"}]}],
	      "payload_response": {"prompt": "It will be {{forecast}} in {{city}}."}
	    }
	  }
	}

A directory without states.* is opened as a loam document tree instead.

# Usage

	eng, err := iafsm.New("./config")
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(context.Background())

	res, err := eng.ProcessTurn(ctx, domain.TurnRequest{
		SessionID:  "call-42",
		Parameters: map[string]any{"city": "Quito"},
	})

Sessions live in memory by default. Use WithSessionStore, WithLocker and
WithStreams with the adapters in pkg/adapters/redis to run several replicas.
*/
package iafsm
