package main

import "github.com/ambiyansyah-risyal/marquee/internal/cli"

func main() {
	cli.Execute()
}
