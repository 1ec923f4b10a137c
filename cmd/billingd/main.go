/*
main.go - Application entry point

PURPOSE:
  Starts the billingd CLI. Configuration comes from the environment and an
  optional .env file; the subcommands decide what runs.

COMMANDS:
  serve     HTTP API plus the optional eligibility scheduler
  scan      One eligibility scan for an account, printed as a table
  invoice   One invoice run for selected customers

SEE ALSO:
  - root.go: Shared wiring (store, documents, numbering, engine)
  - config/config.go: Environment variables
*/
package main

func main() {
	Execute()
}
