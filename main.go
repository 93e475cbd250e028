package main

import "github.com/ktamas77/claudeway/cmd"

func main() {
	cmd.Execute()
}
