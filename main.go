package main

import (
	"context"

	"peerlink/cli"
)

func main() {
	cli.Execute(context.Background())
}
