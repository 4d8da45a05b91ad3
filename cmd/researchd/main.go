// Command researchd runs the deep-research chat server.
package main

import "deepresearch/internal/agentd"

func main() {
	agentd.Run()
}
