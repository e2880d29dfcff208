package main

import "os"

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	root := newRootCommand()
	root.Version = version
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
