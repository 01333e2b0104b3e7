package main

import (
	"os"

	"horse.fit/weave/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
