// Command voxcord is a development client for the voice gateway: it connects,
// joins a room, and mirrors the live session state to the terminal.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voxcord/voxcord/internal/client"
	"github.com/voxcord/voxcord/internal/config"
	"github.com/voxcord/voxcord/internal/domain"
)

func main() {
	var (
		tokenFlag = flag.String("token", "", "bearer token (fetched from the dev issuer when empty)")
		userFlag  = flag.String("user", "guest", "username for the dev token issuer")
		roomFlag  = flag.String("room", "", "voice room to join on startup")
		apiFlag   = flag.String("api", "http://localhost:8080", "gateway HTTP base URL for the dev token issuer")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	token := *tokenFlag
	if token == "" {
		token, err = fetchDevToken(ctx, *apiFlag, *userFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("could not obtain a token")
		}
	}

	conn := client.NewConn(client.ConnConfig{
		URL:               cfg.Client.ServerURL,
		ReconnectAttempts: cfg.Client.ReconnectAttempts,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
	}, log.Logger)
	coord := client.NewCoordinator(conn, client.Config{
		JoinTimeout:  cfg.Client.JoinTimeout,
		LeaveTimeout: cfg.Client.LeaveTimeout,
	}, log.Logger)
	coord.Start(ctx)

	coord.OnSignal(func(payload json.RawMessage, from domain.UserID) {
		log.Info().Str("from", string(from)).RawJSON("payload", payload).Msg("signal received")
	})

	if err := coord.Connect(ctx, client.Credentials{Token: token}); err != nil {
		log.Fatal().Err(err).Msg("connect failed")
	}

	snapshots, subID := coord.Subscribe()
	defer coord.Unsubscribe(subID)
	go func() {
		for s := range snapshots {
			printSession(s)
		}
	}()

	if *roomFlag != "" {
		if err := coord.JoinVoiceRoom(ctx, domain.RoomID(*roomFlag)); err != nil {
			log.Error().Err(err).Str("room", *roomFlag).Msg("join failed")
		}
	}

	fmt.Println("commands: j <room> | l (leave) | m (toggle mute) | s <json> (broadcast signal) | q")
	go readCommands(ctx, cancel, coord)

	<-ctx.Done()
	coord.Disconnect()
	log.Info().Msg("bye")
}

func readCommands(ctx context.Context, cancel context.CancelFunc, coord *client.Coordinator) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "q":
			cancel()
			return
		case line == "l":
			coord.LeaveVoiceRoom()
		case line == "m":
			coord.ToggleMute()
		case strings.HasPrefix(line, "j "):
			room := strings.TrimSpace(strings.TrimPrefix(line, "j "))
			if err := coord.JoinVoiceRoom(ctx, domain.RoomID(room)); err != nil {
				log.Error().Err(err).Str("room", room).Msg("join failed")
			}
		case strings.HasPrefix(line, "s "):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "s "))
			if !json.Valid([]byte(payload)) {
				log.Error().Msg("signal payload must be valid JSON")
				continue
			}
			coord.SendSignal(json.RawMessage(payload), "")
		case line == "":
		default:
			fmt.Println("unknown command")
		}
	}
}

func fetchDevToken(ctx context.Context, api, username string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api+"/api/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token issuer returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func printSession(s client.Session) {
	if s.Notice != "" {
		fmt.Printf("! %s\n", s.Notice)
	}
	if !s.InRoom() {
		fmt.Printf("[%s] not in a room\n", s.Status)
		return
	}
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		p := s.Participants[domain.UserID(id)]
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Username)
		if p.Muted {
			b.WriteString(" (muted)")
		}
	}
	muted := ""
	if s.LocalMuted {
		muted = " [muted]"
	}
	fmt.Printf("[%s] room=%s%s members: %s\n", s.Status, s.RoomID, muted, b.String())
}
