package main

import "github.com/audiolibrelab/streamcapture/cmd"

func main() {
	cmd.Execute()
}
