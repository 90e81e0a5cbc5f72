// Command entity-log inspects protocol capture files written by
// entity-server when log.protocol_file is set.
//
// Usage:
//
//	entity-log <command> [flags] <file.elog>
//
// Examples:
//
//	# View wire-layer events
//	entity-log view --layer wire entity.elog
//
//	# Everything that happened during one Auth exchange
//	entity-log view --exchange 01HZX3K7Q3V9M0PZ6Y5W2F4E8B entity.elog
//
//	# Keep only client 7's traffic
//	entity-log filter --client-id 7 -o client7.elog entity.elog
//
//	# Export to YAML
//	entity-log export --format yaml entity.elog
package main

import (
	"fmt"
	"os"

	"github.com/JZwlth/iotauth/cmd/entity-log/commands"
)

func main() {
	if err := commands.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
