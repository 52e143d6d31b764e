package main

import (
	"log"

	"github.com/Aaliyah097/bochat/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
