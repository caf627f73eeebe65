// Package cli implements the interactive operator console for the Tavolo
// server: roster and table inspection, server chat, kicks and shutdown.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/tavolo-project/tavolo/internal/config"
	"github.com/tavolo-project/tavolo/internal/events"
	"github.com/tavolo-project/tavolo/internal/history"
	"github.com/tavolo-project/tavolo/internal/server"
)

// CLI provides the interactive operator console.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     *server.Server
	store    *history.Store
}

// NewCLI creates a new console handler. store may be nil when history is
// disabled.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, game *server.Server, store *history.Store) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		store:    store,
	}
}

// Start begins the interactive console loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nTavolo console ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("tavolo> ")
		if !scanner.Scan() {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single console command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "players", "p":
		c.printPlayers()
	case "matches", "m":
		c.printMatches(args)
	case "say":
		return c.cmdSay(ctx, args)
	case "start":
		c.game.StartGame()
		fmt.Println("Game start requested")
	case "stop":
		c.game.StopGame()
		fmt.Println("Game stop requested")
	case "kick":
		return c.cmdKick(ctx, args, false)
	case "remove":
		return c.cmdKick(ctx, args, true)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Tavolo...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	fmt.Println("\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    Tavolo Console Commands                   ║")
	fmt.Println("╠══════════════════════════════════════════════════════════════╣")
	fmt.Println("║  status             Show server and table status            ║")
	fmt.Println("║  players            Show the player roster                  ║")
	fmt.Println("║  matches [n]        Show the n most recent matches          ║")
	fmt.Println("║  say <text>         Broadcast a chat line as the server     ║")
	fmt.Println("║  start              Start the game                          ║")
	fmt.Println("║  stop               Stop the running game                   ║")
	fmt.Println("║  kick <name>        Disconnect a player (rejoin allowed)    ║")
	fmt.Println("║  remove <name>      Remove a player permanently             ║")
	fmt.Println("║  quit               Shutdown Tavolo                         ║")
	fmt.Println("║  help               Show this help message                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printStatus displays server and table state.
func (c *CLI) printStatus() {
	srvCfg := c.cfg.GetServer()
	snap := c.game.TableSnapshot()

	fmt.Printf("\n  Listen:       %s:%d\n", srvCfg.ListenAddress, srvCfg.Port)
	fmt.Printf("  Players:      %d / %d (%d online)\n", len(c.game.Roster()), srvCfg.MaxPlayers, c.game.ClientCount())
	fmt.Printf("  Phase:        %s\n", snap.Phase)
	if snap.Phase == server.PhaseActive {
		direction := "clockwise"
		if !snap.Clockwise {
			direction = "counter-clockwise"
		}
		fmt.Printf("  Turn:         %s (ID %d)\n", snap.TurnName, snap.TurnID)
		fmt.Printf("  Table card:   %s\n", snap.TableCard)
		fmt.Printf("  Direction:    %s\n", direction)
		if snap.PendingDraw > 0 {
			fmt.Printf("  Pending draw: %d\n", snap.PendingDraw)
		}
	}
	fmt.Println()
}

// printPlayers displays the roster in a formatted table.
func (c *CLI) printPlayers() {
	roster := c.game.Roster()
	if len(roster) == 0 {
		fmt.Println("No players registered")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Name", "Online", "Connected", "Won"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, p := range roster {
		online := "no"
		connected := "-"
		if p.IsOnline {
			online = "yes"
			if since, ok := c.game.ConnectedSince(*p.ID); ok {
				connected = time.Since(since).Round(time.Second).String()
			}
		}
		won := "-"
		if p.Won != nil {
			won = strconv.Itoa(*p.Won)
		}
		tw.Append([]string{
			fmt.Sprintf("%d", *p.ID),
			p.Name,
			online,
			connected,
			won,
		})
	}

	tw.Render()
	fmt.Println()
}

// printMatches displays the most recent archived matches.
func (c *CLI) printMatches(args []string) {
	if c.store == nil {
		fmt.Println("Match history is disabled")
		return
	}

	limit := 10
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			limit = n
		}
	}

	matches, err := c.store.RecentMatches(limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(matches) == 0 {
		fmt.Println("No archived matches")
		return
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Started", "Ended", "Players", "Winner"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, m := range matches {
		ended := "-"
		if m.EndedAt != nil {
			ended = m.EndedAt.Format("2006-01-02 15:04")
		}
		tw.Append([]string{
			fmt.Sprintf("%d", m.ID),
			m.StartedAt.Format("2006-01-02 15:04"),
			ended,
			fmt.Sprintf("%d", m.Players),
			m.Winner,
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdSay(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: say <text>")
	}
	text := strings.Join(args, " ")
	c.game.Say(ctx, text)
	fmt.Println("Message broadcast")
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string, remove bool) error {
	if len(args) != 1 {
		if remove {
			return fmt.Errorf("usage: remove <name>")
		}
		return fmt.Errorf("usage: kick <name>")
	}

	if err := c.game.KickByName(ctx, args[0], remove); err != nil {
		return err
	}
	if remove {
		fmt.Printf("Player %s removed\n", args[0])
	} else {
		fmt.Printf("Player %s kicked\n", args[0])
	}
	return nil
}
