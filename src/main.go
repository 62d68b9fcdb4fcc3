package main

import "fundflow-server/src/cmd"

func main() {
	cmd.Execute()
}
