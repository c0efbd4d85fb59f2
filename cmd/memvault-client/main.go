package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memvault"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
)

// Constants for the command-line interface
const (
	cmdHelp        = "!help"
	cmdQuit        = "!quit"
	cmdUser        = "!user"
	cmdRemember    = "!remember"
	cmdSearch      = "!search"
	cmdList        = "!list"
	cmdForget      = "!forget"
	cmdForgetAll   = "!forgetall"
	cmdUpdate      = "!update"
	cmdGraph       = "!graph"
	cmdProfile     = "!profile"
	cmdConsolidate = "!consolidate"
	cmdHealth      = "!health"
)

// Command-line help text
const helpText = `
memvault Client - Command Reference:
-----------------------------------------
!help                 - Show this help message
!user <id>            - Set the current user ID
!remember <text>      - Store a memory directly
!search <query>       - Retrieve related memories by similarity
!list                 - List stored memories, newest first
!update <id> <text>   - Replace a memory's content
!forget <id>          - Delete one memory
!forgetall            - Delete every memory for the current user
!graph                - Show memories connected by semantic similarity
!profile              - Show the consolidated user profile
!consolidate          - Run consolidation now instead of waiting for the batch
!health               - Check connectivity of both stores
!quit                 - Exit the application

Notes:
- Regular text input is recorded as a conversational message; the
  returned profile context is printed back
- Tab completion is available for commands
- Use up/down arrows for command history`

// historyFile is the file where command history is stored
const historyFile = ".memvault_history"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	// Pull API keys and DSNs from .env when present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env file", "error", err)
	}

	log.Setup(log.Config{
		Level:  log.InfoLevel,
		Format: log.TextFormat,
	})

	log.Info("Starting memvault client")

	client, err := memvault.NewFromConfigFile(*configPath)
	if err != nil {
		log.Error("Failed to initialize memvault client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Background consolidation runs for the life of the process
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Start(ctx); err != nil {
		log.Error("Failed to start consolidation workers", "error", err)
		os.Exit(1)
	}

	runCLI(client, *stdinMode)
}

// runCLI starts the command-line interface for user interaction
func runCLI(client *memvault.Client, stdinMode bool) {
	currentUser := owner.ID("default-user")

	if stdinMode {
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("\n=== memvault Client (stdin mode) ===")
		fmt.Printf("Current User: %s\n", currentUser)

		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			// Skip comments and shebang lines for stdin-based testing
			if strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
				continue
			}

			if input == cmdQuit {
				fmt.Println("Goodbye!")
				return
			}

			// Format a fake prompt for better output readability
			fmt.Printf("memvault::%s> %s\n", currentUser, input)

			processCommand(input, client, &currentUser, nil)
		}

		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
		}
		fmt.Println("Goodbye!")
		return
	}

	// Interactive mode
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)

	line.SetCompleter(func(line string) (c []string) {
		commands := []string{cmdHelp, cmdQuit, cmdUser, cmdRemember, cmdSearch, cmdList,
			cmdUpdate, cmdForget, cmdForgetAll, cmdGraph, cmdProfile, cmdConsolidate, cmdHealth}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("\n=== memvault Client ===")
	fmt.Printf("Current User: %s\n", currentUser)
	fmt.Println("Type !help for available commands.")

	for {
		prompt := fmt.Sprintf("memvault::%s> ", currentUser)
		input, err := line.Prompt(prompt)

		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == cmdQuit {
			fmt.Println("Goodbye!")
			break
		}

		if !processCommand(input, client, &currentUser, line) {
			break
		}
	}
}

// processCommand handles a single command and returns false if the CLI should exit
func processCommand(input string, client *memvault.Client, currentUser *owner.ID, line *liner.State) bool {
	ctx := context.Background()

	if !strings.HasPrefix(input, "!") {
		// Regular text is a conversational message
		profileCtx, err := client.RecordMessage(ctx, *currentUser, input)
		if err != nil {
			fmt.Printf("Error recording message: %v\n", err)
		} else {
			fmt.Println(profileCtx)
		}
		return true
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]

	switch cmd {
	case cmdHelp:
		fmt.Println(helpText)

	case cmdQuit:
		// Already handled in main loop
		return false

	case cmdUser:
		if len(parts) == 1 {
			fmt.Printf("Current user: %s\n", *currentUser)
			if line != nil {
				userInput, err := line.Prompt("Enter new user ID (or press Enter to keep current): ")
				if err == nil && strings.TrimSpace(userInput) != "" {
					*currentUser = owner.ID(strings.TrimSpace(userInput))
					fmt.Printf("User set to: %s\n", *currentUser)
				}
			}
		} else {
			*currentUser = owner.ID(parts[1])
			fmt.Printf("User set to: %s\n", *currentUser)
		}

	case cmdRemember:
		if len(parts) == 1 {
			fmt.Println("Memory content required")
			return true
		}
		id, err := client.Memories().Store(ctx, *currentUser, parts[1], nil)
		if err != nil {
			fmt.Printf("Error storing memory: %v\n", err)
		} else {
			fmt.Printf("Stored memory %s\n", id)
		}

	case cmdSearch:
		if len(parts) == 1 {
			fmt.Println("Search query required")
			return true
		}
		hits, err := client.Memories().SearchRelated(ctx, parts[1], *currentUser)
		if err != nil {
			fmt.Printf("Error searching memories: %v\n", err)
			return true
		}
		if len(hits) == 0 {
			fmt.Println("No related memories found.")
			return true
		}
		for _, hit := range hits {
			fmt.Printf("[%.3f] %s  %s\n", hit.Score, hit.ID, hit.Content)
		}

	case cmdList:
		memories, err := client.Memories().List(ctx, *currentUser, 0, 50)
		if err != nil {
			fmt.Printf("Error listing memories: %v\n", err)
			return true
		}
		if len(memories) == 0 {
			fmt.Println("No memories stored.")
			return true
		}
		for _, mem := range memories {
			tags := ""
			if len(mem.Tags) > 0 {
				tags = " [" + strings.Join(mem.Tags, ", ") + "]"
			}
			fmt.Printf("%s  %s%s\n", mem.ID, mem.Content, tags)
		}

	case cmdUpdate:
		args := strings.SplitN(input, " ", 3)
		if len(args) < 3 {
			fmt.Println("Usage: !update <id> <new content>")
			return true
		}
		content := args[2]
		mem, err := client.Memories().Update(ctx, args[1], *currentUser, relational.MemoryUpdate{Content: &content})
		if err != nil {
			fmt.Printf("Error updating memory: %v\n", err)
		} else {
			fmt.Printf("Updated memory %s\n", mem.ID)
		}

	case cmdForget:
		if len(parts) == 1 {
			fmt.Println("Memory ID required")
			return true
		}
		if err := client.Memories().Delete(ctx, parts[1], *currentUser); err != nil {
			fmt.Printf("Error deleting memory: %v\n", err)
		} else {
			fmt.Printf("Deleted memory %s\n", parts[1])
		}

	case cmdForgetAll:
		result, err := client.Memories().DeleteAll(ctx, *currentUser)
		if err != nil {
			fmt.Printf("Error deleting memories: %v\n", err)
			return true
		}
		fmt.Printf("Deleted %d memories (%d index points removed)\n",
			result.RelationalCount, result.VectorCount)
		if !result.VectorComplete {
			fmt.Println("Warning: index cleanup incomplete, will be repaired later")
		}

	case cmdGraph:
		graph, err := client.Memories().MemoryGraph(ctx, *currentUser, 0)
		if err != nil {
			fmt.Printf("Error building memory graph: %v\n", err)
			return true
		}
		if len(graph.Nodes) == 0 {
			fmt.Println("No memories stored.")
			return true
		}
		fmt.Printf("%d memories, %d connections\n", len(graph.Nodes), len(graph.Edges))
		for _, node := range graph.Nodes {
			fmt.Printf("%s  %s\n", node.ID, node.Label)
		}
		for _, edge := range graph.Edges {
			fmt.Printf("[%.3f] %s <-> %s\n", edge.Weight, edge.Source, edge.Target)
		}

	case cmdProfile:
		profile, err := client.Profile(ctx, *currentUser)
		if err != nil {
			fmt.Printf("Error fetching profile: %v\n", err)
			return true
		}
		fmt.Printf("Summary:\n%s\n", profile.Summary)
		if len(profile.Metadata) > 0 {
			fmt.Println("Metadata:")
			for k, v := range profile.Metadata {
				fmt.Printf("  %s: %v\n", k, v)
			}
		}
		fmt.Printf("Updated: %s\n", profile.UpdatedAt)

	case cmdConsolidate:
		result, err := client.Consolidate(ctx, *currentUser)
		if errors.Is(err, errors.ErrLockHeld) {
			fmt.Println("Consolidation already running for this user, skipped.")
			return true
		}
		if err != nil {
			fmt.Printf("Error running consolidation: %v\n", err)
			return true
		}
		fmt.Printf("Consolidated %d messages into %d new memories\n",
			result.Processed, result.NewMemories)

	case cmdHealth:
		if err := client.Health(ctx); err != nil {
			fmt.Printf("Health check failed: %v\n", err)
		} else {
			fmt.Println("Both stores healthy.")
		}

	default:
		fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
	}

	return true
}
