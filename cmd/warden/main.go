package main

import (
	"log"
	"os"

	"warden/cmd/internal/app"
)

func main() {
	if err := app.Main(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
