package main

import "github.com/andresmejia3/checkmates/cmd"

func main() {
	cmd.Execute()
}
