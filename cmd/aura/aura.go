package main

import (
	"fmt"
	"os"

	"github.com/Tom6814/JM-Aura/server"
	"github.com/akamensky/argparse"
)

func main() {
	parser := argparse.NewParser("aura", "Identity and favorites reconciliation backend for JM clients")
	configFilePath := parser.String("c", "config", &argparse.Options{Help: "Config file path (optional, defaults apply without one)", Default: ""})
	port := parser.String("p", "port", &argparse.Options{Help: "Listen address", Default: ":8842"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServer(*configFilePath)
	if err != nil {
		panic(err)
	}
	s.ListenForKillSignals()
	if err := s.ListenHTTP(*port); err != nil {
		fmt.Printf("%v\n", err)
	}
}
