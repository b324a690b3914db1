// Command ofcorectl is an offline inspection CLI for the controller
// core's configuration and device database, since the core exposes no
// RPC surface for a live client to attach to.
package main

import "github.com/runos-go/ofcore/cmd/ofcorectl/commands"

func main() {
	commands.Execute()
}
