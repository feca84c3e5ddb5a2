package kfmt

import (
	"kernos/kernel"
	"kernos/kernel/cpu"
)

// stopFn is mocked by tests.
var stopFn = cpu.Stop

// panicCause returns the module and message reported for e.
func panicCause(e interface{}) (module, message string, ok bool) {
	switch t := e.(type) {
	case *kernel.Error:
		return t.Module, t.Message, true
	case string:
		return "rt", t, true
	case error:
		return "rt", t.Error(), true
	}
	return "", "", false
}

// Panic reports e on the console and stops the machine. It is reserved for
// broken kernel invariants; resource errors are returned to the caller
// instead. Panic never returns to a running machine.
func Panic(e interface{}) {
	Printf("\n*** kernel panic ***\n")
	if module, message, ok := panicCause(e); ok {
		Printf("[%s] %s\n", module, message)
	}
	Printf("machine stopped\n")

	stopFn()
}
