// localpulse is the entry point for the analytics API and browser tooling.
package main

import "github.com/pulsemetrics/localpulse/cmd"

func main() {
	cmd.Execute()
}
