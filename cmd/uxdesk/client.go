// uxdesk is the interactive console for a running uxdeskd. It talks the
// control protocol over the daemon's control socket: routing grid, strip
// editing, meters, and device picking.
package main

import (
	"flag"
	"fmt"
	"os"
)

// defaultControlSocket matches uxdeskd's default.
const defaultControlSocket = "/tmp/uxdesk-control.sock"

func main() {
	socket := flag.String("control", defaultControlSocket, "daemon control socket path")
	flag.Parse()

	tui := NewTUI(*socket)
	if err := tui.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "uxdesk:", err)
		os.Exit(1)
	}
}
