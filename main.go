package main

import "rapidclip/cmd"

func main() {
	cmd.Execute()
}
