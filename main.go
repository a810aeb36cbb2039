package main

import (
	"github.com/devpush/updater/cmd"
)

func main() {
	cmd.Execute()
}
