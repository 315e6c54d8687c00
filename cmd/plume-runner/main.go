package main

import (
	"os"

	"github.com/buldozerch/plume-runner/internal/app"
)

func main() {
	os.Exit(app.NewRunner().Run(os.Args[1:]))
}
