// File: cmd/qoegate/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/varelix/qoegate/cmd"
	"github.com/varelix/qoegate/internal/observability"
)

const panicLogFile = "qoegate-panic.log"

// Function variables so tests can intercept process-level effects.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err == nil {
		return
	}

	var gate *cmd.GateError
	if errors.As(err, &gate) {
		osExit(gate.Code)
		return
	}

	// An interrupted or failed run must never read as a passing gate.
	osExit(cmd.CodeInternal)
}

// handlePanic keeps a crash from masquerading as a gate decision: the stack
// goes to a log file and the process exits with the internal-error code.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		message := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(message), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\nPanic details:\n%s\n", err, message)
			osExit(cmd.CodeInternal)
			return
		}

		fmt.Fprintf(os.Stderr, "crash detected; details logged to %s\n", panicLogFile)
		osExit(cmd.CodeInternal)
	}
}
