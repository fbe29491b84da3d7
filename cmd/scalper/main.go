package main

import "github.com/rustyeddy/scalper/internal/cli"

func main() {
	cli.Execute()
}
