package main

import "github.com/MeKo-Tech/terrastream/internal/cmd"

func main() {
	cmd.Execute()
}
