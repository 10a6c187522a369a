package main

import "github.com/labops/relay/cmd"

func main() {
	cmd.Execute()
}
