package main

import "github.com/RyanBlaney/tonewatch/cmd"

func main() {
	cmd.Execute()
}
