// Command p2pchat is the terminal front end for a two-party encrypted chat
// session. Grounded on cli.go's main/repl, rebuilt on top of
// github.com/spf13/cobra the way peer-it's internal/client/cmd/root.go
// structures a multi-subcommand CLI.
package main

func main() {
	Execute()
}
