package main

import "github.com/jmehdipour/orders-outbox/cmd"

func main() {
	cmd.Execute()
}
