// Copyright (c) 2026, The fleetman Authors

package main

import "fleetman.io/fleetman/cmd/fleetctl/cmd"

func main() {
	cmd.Execute()
}
