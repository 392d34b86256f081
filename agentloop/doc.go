// Package agentloop implements a tool-calling coding agent.
//
// An Agent sends the conversation, a fixed system prompt and a fixed tool
// list to a model, executes whatever tools the model requests, appends the
// results and repeats until the model answers without requesting tools.
// The system prompt and tool list never change while a conversation is
// running, so provider-side prompt caching stays valid; anything dynamic
// (reminders, loop warnings, skill documents) is appended as conversation
// content instead.
//
// # Architecture
//
//   - Conversation: append-only turns. Every tool request is answered by
//     exactly one result, in request order, in the following user turn.
//   - ToolRegistry: ordered, name-keyed tool definitions and handlers, with
//     restricted views for subagents.
//   - ToolExecutor: argument validation, dispatch and output truncation.
//     Tool failures become error results rather than loop errors.
//   - ExecutionEnvironment: where tools touch the filesystem and shell. The
//     local implementation confines every path to its working directory.
//   - Spawner: runs a delegated task in a fresh conversation with a
//     restricted tool set and returns only the final text.
//   - TodoTracker: the agent's whole-list-replace task list.
//   - Session: one interactive conversation with todo reminders and events.
//
// # Quick Start
//
//	env, err := agentloop.NewLocalExecutionEnvironment("/path/to/project")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg := agentloop.NewToolRegistry()
//	_ = agentloop.RegisterCoreTools(reg, agentloop.CoreToolOptions{})
//	_ = reg.Register(agentloop.TodoTool(agentloop.NewTodoTracker()))
//	exec := agentloop.NewToolExecutor(reg, env)
//
//	cfg := agentloop.DefaultConfig()
//	cfg.Model = "claude-sonnet-4-5"
//	_ = reg.Register(agentloop.NewSpawner(client, exec, cfg).Tool())
//
//	session := agentloop.NewSession(client, exec, agentloop.BuildSystemPrompt(env, cfg.Model, ""), cfg)
//	defer session.Close()
//	answer, err := session.Submit(ctx, "Create a hello.py file")
package agentloop
