package main

import "github.com/krau/visualnarrator/cmd"

func main() {
	cmd.Execute()
}
