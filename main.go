package main

import (
	"github.com/project-archbot/archbot/pkg/cli"
)

func main() {
	cli.Execute()
}
