// Headless call participant. It joins a room on a signaling server, exchanges
// offers and answers with every other participant, and feeds synthetic media
// into the negotiated connections. Useful for smoke-testing a deployment and
// for populating rooms during development.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"github.com/classmeet/classmeet/internal/client"
	"github.com/classmeet/classmeet/internal/models"
	"github.com/classmeet/classmeet/internal/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	serverURL := flag.String("server", "http://localhost:8080", "Signaling server base URL")
	roomID := flag.String("room", "", "Room to join (created when empty)")
	userName := flag.String("name", "guest", "Display name")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debugMode {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(ctx, logger, *serverURL, *roomID, *userName); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, serverURL, roomID, userName string) error {
	base, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	if roomID == "" {
		roomID, err = createRoom(ctx, base)
		if err != nil {
			return err
		}
		pterm.Info.Println("Created room " + roomID)
	}

	iceServers, err := fetchICEConfig(ctx, base)
	if err != nil {
		return err
	}

	source, err := newSyntheticSource()
	if err != nil {
		return fmt.Errorf("failed to create media source: %w", err)
	}
	media := client.NewLocalMedia(source)

	signaler, err := client.Dial(ctx, wsURL(base), logger)
	if err != nil {
		return err
	}
	defer signaler.Close()

	sessions := client.NewSessionManager(iceServers, media, signaler, logger)
	orch := client.NewOrchestrator(signaler, sessions, media, logger)

	if err := orch.JoinRoom(roomID, userName); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	pterm.Success.Println(fmt.Sprintf("Joined room %s as %s (connection %s)", roomID, userName, signaler.ConnectionID()))
	pterm.Info.Println("Commands: a = toggle audio, v = toggle video, r = roster, q = quit")

	runErr := make(chan error, 1)
	go func() {
		runErr <- signaler.Run(ctx, &consoleEvents{orch: orch})
	}()

	commands := make(chan string)
	go readCommands(commands)

	for {
		select {
		case <-ctx.Done():
			return leave(orch)
		case err := <-runErr:
			leave(orch)
			return err
		case cmd := <-commands:
			switch cmd {
			case "a":
				state, err := orch.ToggleAudio()
				if err != nil {
					pterm.Warning.Println("Failed to announce audio state: " + err.Error())
				}
				pterm.Info.Println("Audio muted: " + fmt.Sprint(state.IsAudioMuted))
			case "v":
				state, err := orch.ToggleVideo()
				if err != nil {
					pterm.Warning.Println("Failed to announce video state: " + err.Error())
				}
				pterm.Info.Println("Video muted: " + fmt.Sprint(state.IsVideoMuted))
			case "r":
				printRoster(orch.Roster())
			case "q":
				return leave(orch)
			default:
				pterm.Warning.Println("Unknown command " + cmd)
			}
		}
	}
}

func leave(orch *client.Orchestrator) error {
	if err := orch.LeaveRoom(); err != nil {
		return fmt.Errorf("failed to leave cleanly: %w", err)
	}
	pterm.Info.Println("Left the room")
	return nil
}

func readCommands(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out <- line
	}
}

func printRoster(roster []models.Participant) {
	if len(roster) == 0 {
		pterm.Info.Println("Nobody else is here")
		return
	}
	for _, p := range roster {
		pterm.Info.Println(fmt.Sprintf("  %s (%s) audio-muted=%t video-muted=%t",
			p.UserName, p.ID, p.IsAudioMuted, p.IsVideoMuted))
	}
}

// consoleEvents narrates room events before handing them to the negotiation
// layer.
type consoleEvents struct {
	orch *client.Orchestrator
}

func (c *consoleEvents) OnExistingPeers(participants []models.Participant) {
	pterm.Info.Println(fmt.Sprintf("%d participant(s) already in the room", len(participants)))
	c.orch.OnExistingPeers(participants)
}

func (c *consoleEvents) OnParticipantJoined(p models.Participant) {
	pterm.Info.Println(p.UserName + " joined")
	c.orch.OnParticipantJoined(p)
}

func (c *consoleEvents) OnSignal(env *relay.Envelope) {
	c.orch.OnSignal(env)
}

func (c *consoleEvents) OnParticipantLeft(peerID string) {
	pterm.Info.Println(peerID + " left")
	c.orch.OnParticipantLeft(peerID)
}

func (c *consoleEvents) OnPeerMediaState(peerID string, state models.MediaState) {
	c.orch.OnPeerMediaState(peerID, state)
}

// wsURL derives the signaling endpoint from the HTTP base URL.
func wsURL(base *url.URL) string {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws"
	return u.String()
}

func createRoom(ctx context.Context, base *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL(base, "/api/rooms"), nil)
	if err != nil {
		return "", err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to create room: server returned %s", resp.Status)
	}
	var body struct {
		RoomID string `json:"room_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode room response: %w", err)
	}
	return body.RoomID, nil
}

func fetchICEConfig(ctx context.Context, base *url.URL) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL(base, "/api/ice-config"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ICE config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch ICE config: server returned %s", resp.Status)
	}
	var body struct {
		ICEServers []struct {
			URLs       string `json:"urls"`
			Username   string `json:"username"`
			Credential string `json:"credential"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode ICE config: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, s := range body.ICEServers {
		server := webrtc.ICEServer{URLs: []string{s.URLs}}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func apiURL(base *url.URL, path string) string {
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
