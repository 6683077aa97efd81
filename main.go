package main

import (
	"github.com/mdwn/mtrack/cmd"
	"github.com/mdwn/mtrack/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
