// Command qavault is the terminal dashboard for a qavault knowledge base.
//
//	qavault login
//	qavault search restart queue
//	qavault add --question "..." --answer "..." --tag 3
package main

import (
	"fmt"
	"os"

	"github.com/dpup/qavault/errors"
)

func main() {
	a := &app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", errors.PublicMessage(err))
		os.Exit(1)
	}
}
