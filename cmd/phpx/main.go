package main

import "phpx/internal/cli"

func main() {
	cli.Execute()
}
