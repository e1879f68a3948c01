package main

import "github.com/forPelevin/lipseg/internal/cli"

func main() {
	cli.Main()
}
