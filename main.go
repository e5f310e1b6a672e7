package main

import "isoflow/cmd"

func main() {
	cmd.Execute()
}
