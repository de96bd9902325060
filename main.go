package main

import "github.com/camden-git/faceidbackend/cmd"

func main() {
	cmd.Execute()
}
