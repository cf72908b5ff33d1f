package main

import (
	"github.com/fulcrumhq/fulcrum/cmd"
)

func main() {
	cmd.Execute()
}
