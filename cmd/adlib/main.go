package main

import "github.com/example/adlib/cmd"

func main() {
	cmd.Execute()
}
