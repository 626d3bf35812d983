// Meshlobby: headless mesh peer.
//
// It creates or joins a session through a lobby server, connects directly to
// every other member over WebRTC DataChannels, and drives a synthetic local
// player so the replication path can be watched end to end.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-create, -join).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/meshlobby/internal/config"
	"github.com/1ureka/meshlobby/internal/core"
	"github.com/1ureka/meshlobby/internal/game"
	"github.com/1ureka/meshlobby/internal/lobby"
	"github.com/1ureka/meshlobby/internal/session"
	"github.com/1ureka/meshlobby/internal/transport"
	"github.com/1ureka/meshlobby/internal/util"
)

var version = "dev"

const tickRate = 60

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lobbyURL := flag.String("lobby", "", "Lobby WebSocket URL (default from config)")
	create := flag.String("create", "", "Create a session with this name")
	join := flag.Uint64("join", 0, "Join the session with this id")
	configPath := flag.String("config", "", "Path to a YAML config file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if closer := setupLogging(cfg.Log, *debugMode); closer != nil {
		defer closer()
	}

	pterm.Info.Println(fmt.Sprintf("meshlobby — v%s", version))
	pterm.Println()

	if *lobbyURL != "" {
		cfg.Lobby.URL = *lobbyURL
	}
	wsURL, err := normalizeWSURL(cfg.Lobby.URL)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	var start func(*core.Core) error
	switch {
	case *create != "" && *join != 0:
		util.LogError("-create and -join are mutually exclusive")
		os.Exit(1)
	case *create != "":
		start = createSession(*create)
	case *join != 0:
		start = joinSession(session.LobbyID(*join))
	default:
		// No flags → interactive mode.
		start = askStart()
	}

	if err := run(ctx, cfg, wsURL, start); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("successfully left the mesh")
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func run(ctx context.Context, cfg config.Config, wsURL string, start func(*core.Core) error) error {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.Session.LobbyTimeout)
	client, err := lobby.Dial(dialCtx, wsURL)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	player := game.NewHeadlessPlayer("headless", 100)
	world := game.NewHeadlessWorld(rand.Int32())
	c, err := core.New(ctx, cfg.Core(), core.Deps{
		Lobby:     client,
		Transport: transport.New(ctx, cfg.Transport.WebRTC(), client),
		Visuals:   logVisuals{},
		Pose:      newWanderer(player),
		World:     world,
		Player:    player,
		Inventory: game.NewMemoryInventory(map[string]uint8{"Item_Rope": 1}),
		Console:   game.LogConsole{},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	c.Subscribe(func(session.Event) { printMembers(c) })
	if err := start(c); err != nil {
		return err
	}

	util.StartStatsReporter(ctx)
	lines := readLines(ctx)

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			c.Update(dt)

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if quit := command(c, line); quit {
				return nil
			}

		case <-client.Done():
			return fmt.Errorf("lobby connection lost: %w", client.Err())

		case <-ctx.Done():
			return nil
		}
	}
}

func createSession(name string) func(*core.Core) error {
	return func(c *core.Core) error {
		util.LogInfo("creating session %q...", name)
		return c.CreateSession(name, func(id session.LobbyID, err error) {
			if err != nil {
				util.LogError("failed to create session: %v", err)
				return
			}
			util.LogSuccess("session %d created, share this id to let others join", id)
		})
	}
}

func joinSession(id session.LobbyID) func(*core.Core) error {
	return func(c *core.Core) error {
		util.LogInfo("joining session %d...", id)
		return c.JoinSession(id, func(_ session.LobbyID, err error) {
			if err != nil {
				util.LogError("failed to join session %d: %v", id, err)
			}
		})
	}
}

// command runs one console line. It reports whether the program should
// exit.
func command(c *core.Core, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "/quit":
		return true
	case "/members":
		printMembers(c)
	case "/leave":
		c.Leave()
	case "/tp":
		if len(fields) != 2 {
			util.LogWarning("usage: /tp <id suffix>")
			return false
		}
		if id, err := c.TeleportTo(fields[1]); err != nil {
			util.LogWarning("teleport: %v", err)
		} else {
			util.LogInfo("asked %s for a teleport", id)
		}
	default:
		if err := c.Say(line); err != nil {
			util.LogWarning("say: %v", err)
		}
	}
	return false
}

// readLines forwards stdin lines until ctx ends or stdin closes.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func printMembers(c *core.Core) {
	rows := [][]string{{"Peer", "Role", "Link"}}
	for _, id := range c.Members() {
		role, link := "member", c.PeerState(id).String()
		if id == c.Self() {
			link = "self"
		}
		if c.IsOwner() && id == c.Self() {
			role = "owner"
		}
		rows = append(rows, []string{id.String(), role, link})
	}
	_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func setupLogging(cfg config.LogConfig, debug bool) func() {
	if err := util.SetLevel(cfg.Level); err != nil {
		util.LogWarning("%v", err)
	}
	if debug {
		util.EnableDebug()
	}
	if cfg.File == "" {
		return nil
	}
	file := util.SetLogFile(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
	return func() { _ = file.Close() }
}

// normalizeWSURL validates and normalizes a raw WebSocket URL string.
func normalizeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askStart falls back to interactive prompts when neither -create nor -join
// is provided.
func askStart() func(*core.Core) error {
	choice, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Create — Start a new session", "Join   — Enter an existing session"}).
		WithDefaultText("Select an action").
		Show()

	pterm.Println()

	if strings.HasPrefix(choice, "Create") {
		name, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Session name").
			Show()
		pterm.Println()
		if name = strings.TrimSpace(name); name == "" {
			name = "meshlobby"
		}
		return createSession(name)
	}
	return joinSession(askLobbyID())
}

// askLobbyID prompts the user for a session id until a valid one is entered.
func askLobbyID() session.LobbyID {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Session id").
			Show()

		id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err == nil && id != 0 {
			pterm.Println()
			return session.LobbyID(id)
		}

		util.LogWarning("invalid session id: must be a positive number")
		pterm.Println()
	}
}
