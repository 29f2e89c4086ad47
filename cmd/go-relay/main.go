package main

import "github.com/a-essam23/go-relay/cmd/go-relay/cmd"

func main() {
	cmd.Execute()
}
