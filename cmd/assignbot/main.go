package main

import (
	"context"
	"os"

	// Due dates are rendered in the configured IANA zone; embed the
	// database so minimal container images work.
	_ "time/tzdata"
)

func main() {
	if err := run(context.Background(), os.Args); err != nil {
		os.Exit(1)
	}
}
