// Package main is the single-binary entrypoint for Anuvruddhi.
package main

import "github.com/anuvruddhi/anuvruddhi/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
