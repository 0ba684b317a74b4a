package main

import "github.com/rail44/culprit/cmd"

func main() {
	cmd.Execute()
}
