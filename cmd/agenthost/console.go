package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/agenthost-dev/agenthost"
	"github.com/agenthost-dev/agenthost/pkg/agent"
	"github.com/agenthost-dev/agenthost/pkg/config"
	"github.com/agenthost-dev/agenthost/pkg/placeholder"
)

var consoleCommands = []string{
	"create", "call", "poll", "memory", "list", "clone",
	"delete", "delete-all", "configs", "info", "help", "exit",
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console against an in-process runtime",
	Long: `console starts a runtime with the built-in echo agent factory and
drops into a line-edited prompt for poking at it. Useful for trying the
agent lifecycle without a transport layer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return console()
	},
}

func console() error {
	cfg := config.Default()
	cfg.NumWorkers = 4

	rt, err := agenthost.New(cfg, agent.EchoFactory)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = rt.Stop(ctx)
	}()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) (out []string) {
		for _, c := range consoleCommands {
			if strings.HasPrefix(c, prefix) {
				out = append(out, c)
			}
		}
		return out
	})

	fmt.Println("agenthost console. Type 'help' for commands, 'exit' to quit.")

	for {
		input, err := line.Prompt("agenthost> ")
		if err != nil {
			// Ctrl-C or Ctrl-D ends the session.
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			return nil
		}
		if err := runConsoleCommand(rt, input); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func runConsoleCommand(rt *agenthost.Runtime, input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	ctx := context.Background()

	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("usage: create <id> [init-json]")
		}
		var initArgs []byte
		if len(args) > 1 {
			initArgs = []byte(strings.Join(args[1:], " "))
		}
		if err := rt.CreateAgent(ctx, args[0], initArgs, ""); err != nil {
			return err
		}
		fmt.Printf("created %s\n", args[0])

	case "call":
		if len(args) < 2 {
			return errors.New("usage: call <id> <func> [args]")
		}
		var payload []byte
		if len(args) > 2 {
			payload = []byte(strings.Join(args[2:], " "))
		}
		res, err := rt.CallAgentFunc(ctx, args[0], args[1], payload)
		if err != nil {
			return err
		}
		if res.Async {
			fmt.Printf("task %s (poll with: poll %s)\n", res.TaskID, res.TaskID)
		} else {
			fmt.Printf("%s\n", res.Value)
		}

	case "poll":
		if len(args) != 1 {
			return errors.New("usage: poll <task-id>")
		}
		value, err := rt.UpdatePlaceholder(ctx, args[0])
		if errors.Is(err, placeholder.ErrPending) {
			fmt.Println("pending")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", value)

	case "memory":
		if len(args) != 1 {
			return errors.New("usage: memory <id>")
		}
		mem, err := rt.GetAgentMemory(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", mem)

	case "list":
		ids := rt.AgentList()
		if len(ids) == 0 {
			fmt.Println("no agents")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}

	case "clone":
		if len(args) != 1 {
			return errors.New("usage: clone <id>")
		}
		cloneID, err := rt.CloneAgent(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("cloned %s -> %s\n", args[0], cloneID)

	case "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <id>")
		}
		if err := rt.DeleteAgent(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])

	case "delete-all":
		if err := rt.DeleteAllAgents(ctx); err != nil {
			return err
		}
		fmt.Println("deleted all agents")

	case "configs":
		if len(args) < 1 {
			return errors.New("usage: configs <json>")
		}
		if err := rt.SetModelConfigs([]byte(strings.Join(args, " "))); err != nil {
			return err
		}
		fmt.Println("configs applied")

	case "info":
		info, err := rt.ServerInfo()
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", info)

	case "help":
		fmt.Print(`commands:
  create <id> [init-json]   create an agent
  call <id> <func> [args]   invoke a function (echo, slow_echo)
  poll <task-id>            poll an async result
  memory <id>               dump an agent's call history
  list                      list agent ids
  clone <id>                clone an agent
  delete <id>               delete an agent
  delete-all                delete every agent
  configs <json>            push model configs to all agents
  info                      show server info
  exit                      quit
`)

	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
	return nil
}
