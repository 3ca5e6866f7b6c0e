/*
Package dsl builds state machine configurations in Go instead of JSON or YAML files.

The builder is fluent and validates references on Build, which makes it handy
for tests and for flows generated at runtime.

Example usage:

	b := dsl.New("welcome")

	b.State("welcome").
		Prompt("Hi! What would you like to do?").
		On("book", "ask_city")

	b.State("ask_city").
		Require("city").
		Call("fetch_weather", dsl.User("city")).
		Prompt("The weather in {{city}} is {{forecast}}.").
		WhenComplete("done")

	b.State("done").Prompt("Goodbye!")

	b.API(domain.APIDefinition{ID: "fetch_weather", URL: "https://example.test/weather"})

	src, err := b.Build()
	// ... pass src to iafsm.New("", iafsm.WithSource(src))
*/
package dsl
