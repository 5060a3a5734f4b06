package main

import "github.com/LeJamon/goDarkpool/internal/cli"

func main() {
	cli.Execute()
}
