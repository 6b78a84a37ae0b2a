package main

import "flyingcarpet/cmd"

func main() {
	cmd.Execute()
}
