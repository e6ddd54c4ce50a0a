package main

import "github.com/user/hostguard/cmd"

func main() {
	cmd.Execute()
}
