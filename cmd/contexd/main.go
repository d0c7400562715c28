package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/contex/cmd/root"
)

func main() {
	ctx := context.Background()
	if err := root.Execute(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]...); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
