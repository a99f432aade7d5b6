// Package main provides a CLI for working with arbiter schemas and
// policies.
//
// The CLI supports:
//   - validate: Check schema and policy files
//   - generate: Produce Go code with typed path builders from a schema
//   - explain: Show the SQL a policy compiles to
//   - config: Show effective configuration
//
// Commands work on files only; no command needs database access.
package main

func main() {
	Execute()
}
