// Command entity-client talks to an entity server the way an application
// client does. It is meant for trying out and debugging a deployment.
//
// Usage:
//
//	entity-client [--server host:port] <command>
//
// Examples:
//
//	# Check the server answers
//	entity-client --server 127.0.0.1:21100 ping
//
//	# Ask for a session key on behalf of client 42, waiting for a reply
//	entity-client request --client-id 42 --wait 5s
//
//	# Find entity servers on the local network
//	entity-client discover
//
//	# Prompt for commands
//	entity-client interactive
package main

import (
	"fmt"
	"os"

	"github.com/JZwlth/iotauth/cmd/entity-client/commands"
)

func main() {
	if err := commands.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
