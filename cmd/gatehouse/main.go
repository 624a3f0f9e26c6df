package main

import (
	"fmt"
	"os"

	"gatehouse/cmd/internal/app"

	"github.com/fatih/color"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed, color.Bold).Sprint("error:"), err)
		os.Exit(1)
	}
}
