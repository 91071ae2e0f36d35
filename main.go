package main

import "github.com/andresmejia3/limblift/cmd"

func main() {
	cmd.Execute()
}
