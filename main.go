package main

import "github.com/lanshuttle/lanshuttle/cmd"

func main() {
	cmd.Execute()
}
