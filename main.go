// LTX is a small agent that runs on a system under test and executes
// commands for a remote scheduler. It speaks a framed MessagePack
// protocol on its standard streams; the scheduler owns the transport,
// typically SSH, a serial console or a subprocess pipe.
package main

import (
	"os"

	"github.com/linux-test-project/ltx/pkg/agent"
)

func main() {
	os.Exit(agent.Run([3]*os.File{os.Stdin, os.Stdout, os.Stderr}, os.Args[1:]))
}
