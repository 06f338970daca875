package main

import "github.com/timvw/termkeeper/cmd"

func main() {
	cmd.Execute()
}
