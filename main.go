package main

import "pickleball-calendar/cmd"

func main() {
	cmd.Execute()
}
