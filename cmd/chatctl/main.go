package main

import (
	"os"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
