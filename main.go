package main

import "entrybeat/cmd"

func main() {
	cmd.Execute()
}
