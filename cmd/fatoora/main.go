package main

import "github.com/hazimsaleh/fatoora/cmd/fatoora/cmd"

func main() {
	cmd.Execute()
}
