// Command catalog is the operator CLI for a catalog store: it loads the
// schema, validates and writes rows, deletes rows with their dependents and
// curates vocabularies.
package main

import (
	"fmt"
	"os"

	"github.com/jacentio/catalog/errs"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalog:", err)
		if errs.KindOf(err) != nil {
			return exitUserError
		}
		return exitSysError
	}
	return exitSuccess
}
