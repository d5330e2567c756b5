package main

import (
	"log"

	"github.com/olly-social/olly/internal/app"
)

func main() {
	theApp, err := app.New()
	if err != nil {
		log.Fatal(err)
	}

	err = theApp.Run()
	theApp.Close()
	if err != nil {
		log.Fatal(err)
	}
}
