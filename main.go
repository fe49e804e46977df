package main

import "github.com/Laisky/keyword-enricher/cmd"

func main() {
	cmd.Execute()
}
