package main

import "github.com/code-sleuth/roeum-go/cmd"

func main() {
	cmd.Execute()
}
