package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes.
const (
	ExitError  = 1
	ExitConfig = 2
	ExitBus    = 3
)

func Exit(code int, msg string, args ...any) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
