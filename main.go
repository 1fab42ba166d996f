package main

import "github.com/datanova-ai/datanova-exchange/cmd"

func main() {
	cmd.Execute()
}
