package main

import "github.com/e6grab/e6grab/cmd"

func main() {
	cmd.Execute()
}
