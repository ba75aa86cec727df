// Command larder reads and edits business objects described by class
// definitions. See "larder --help".
package main

import "github.com/mesh-intelligence/larder/internal/cli"

func main() {
	cli.Execute()
}
