// Command codeagent is a terminal coding agent: a tool-calling model loop
// over a local working directory, with todo tracking and isolated subagents.
package main

func main() {
	Execute()
}
