// Command critsec runs the critical-section analyzer over kernel packages:
//
//	go run ./tools/critsec/cmd/critsec ./kernel/...
package main

import (
	"kernos/tools/critsec"

	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(critsec.Analyzer)
}
