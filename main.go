package main

import "github.com/ValentinKolb/dObj/cmd"

func main() {
	cmd.Execute()
}
