package main

import "github.com/example/testsched/cmd"

func main() {
	cmd.Execute()
}
