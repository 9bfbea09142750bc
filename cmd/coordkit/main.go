package main

import "github.com/jvs-project/coordkit/internal/cli"

func main() {
	cli.Execute()
}
