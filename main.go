package main

import "github.com/audiopipe/gapless/cmd"

func main() {
	cmd.Execute()
}
