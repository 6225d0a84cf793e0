// Command pythomnic is the startup launcher of §6: `pythomnic
// <node>.<cage>` or `pythomnic <cage>` (node defaults to the host short
// name) spawns a supervised worker process for one cage. Internal
// reinvocation uses the leading `-` sentinel:
// `pythomnic - <node> <cage> NORMAL|FAILURE`, matching
// original_source/startup.py's own argv contract.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrydvoinikov/pythomnic-go/internal/supervisor"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: pythomnic <node>.<cage> | <cage>")
		os.Exit(2)
	}

	if args[0] == supervisor.ReinvokeSentinel {
		runWorker(args[1:])
		return
	}
	runLauncher(args[0])
}

// runLauncher is the primary process: it resolves node/cage from argv,
// writes the cage's pid file, and supervises the worker child forever.
func runLauncher(spec string) {
	node, cage := splitNodeCage(spec)

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pythomnic: cannot resolve executable path:", err)
		os.Exit(1)
	}

	pidPath := cageLogPath(cage, cage+".pid")
	if err := supervisor.WritePidFile(pidPath); err != nil {
		fmt.Fprintln(os.Stderr, "pythomnic: cannot write pid file (logs/ not writable):", err)
		os.Exit(1)
	}

	p := supervisor.NewParent(exe, node, cage, 2*time.Second)
	p.Run()
}

// splitNodeCage implements §6's `<node>.<cage>` / `<cage>` argument
// parsing, defaulting node to the host's short name.
func splitNodeCage(spec string) (node, cage string) {
	if i := strings.LastIndex(spec, "."); i >= 0 {
		return spec[:i], spec[i+1:]
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	if i := strings.Index(host, "."); i >= 0 {
		host = host[:i]
	}
	return host, spec
}

func cageLogPath(cage, file string) string {
	return "cages/" + cage + "/logs/" + file
}
