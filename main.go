package main

import (
	"Anicut/cmd"
)

func main() {
	cmd.Execute()
}
