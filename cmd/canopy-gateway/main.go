package main

import "github.com/canopyiq/canopy-gateway/cmd/canopy-gateway/cmd"

func main() {
	cmd.Execute()
}
