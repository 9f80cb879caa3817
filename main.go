package main

import "github.com/tanq16/danzod/cmd"

func main() {
	cmd.Execute()
}
