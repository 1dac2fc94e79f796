package main

import "github.com/agentic-research/partbom/cmd"

func main() {
	cmd.Execute()
}
