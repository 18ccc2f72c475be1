package main

import "github.com/wolfitem/feedwatch/cmd"

func main() {
	cmd.Execute()
}
