package main

import (
	"github.com/nikatrade/referrald/internal/cli"
)

func main() {
	cli.Execute()
}
