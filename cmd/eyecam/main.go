package main

import "github.com/bryanchriswhite/eyecam/cmd/eyecam/commands"

func main() {
	commands.Execute()
}
