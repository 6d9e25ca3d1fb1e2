// Command splunkctl is the operator CLI for splunkdesk: it loads sample data
// through HEC, prints the discovered Splunk schema and talks to the routing
// agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"splunkdesk/internal/logging"
)

func main() {
	args := logging.InitLogging(os.Args[1:])
	root := newRootCmd()
	root.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
