package main

import (
	"os"

	"github.com/dhcgn/pst-to-mime/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
