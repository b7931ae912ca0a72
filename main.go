package main

import "github.com/ValentinKolb/kvlog/cmd"

func main() {
	cmd.Execute()
}
