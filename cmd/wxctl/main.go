package main

import (
	"fmt"
	"os"

	"github.com/kjstillabower/aviation-weather-service/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "wxctl: %v\n", err)
		os.Exit(1)
	}
}
