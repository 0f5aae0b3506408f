package main

import "github.com/bradfa/qiprog/cmd/qiprog/cmd"

func main() {
	cmd.Execute()
}
