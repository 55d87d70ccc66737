package main

import "github.com/Laisky/sqlite-explorer/cmd"

func main() {
	cmd.Execute()
}
