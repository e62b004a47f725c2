package main

import "mimamori/cmd"

func main() {
	cmd.Execute()
}
