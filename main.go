package main

import "github.com/khanhnv2901/tlsinspect/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
