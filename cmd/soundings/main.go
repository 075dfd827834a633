// The main package for the soundings executable.
package main

import (
	"github.com/JakeFAU/uwyo-soundings/cmd"
)

func main() {
	cmd.Execute()
}
