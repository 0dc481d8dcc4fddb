package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pickup-chat/internal/api"
	"pickup-chat/internal/archive"
	"pickup-chat/internal/auth"
	"pickup-chat/internal/chat"
	"pickup-chat/internal/config"
	"pickup-chat/internal/credstore"
	"pickup-chat/internal/models"
	"pickup-chat/internal/places"
)

const (
	credToken    = "token"
	credUsername = "username"
)

func main() {
	gameID := flag.String("game", "", "game ID of the chat room to join")
	username := flag.String("username", "", "username for login/register")
	password := flag.String("password", "", "password for login/register")
	register := flag.Bool("register", false, "create a new account instead of logging in")
	logout := flag.Bool("logout", false, "clear stored credentials and exit")
	offline := flag.Bool("offline", false, "print the archived transcript for -game and exit")
	venues := flag.String("venues", "", "search nearby venues for a sport (e.g. \"basketball court\") and exit")
	lat := flag.Float64("lat", 0, "latitude for -venues")
	lng := flag.Float64("lng", 0, "longitude for -venues")
	radius := flag.Int("radius", 10, "search radius in miles for -venues")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MAIN] Config error: %v", err)
	}

	store, err := credstore.Open(cfg.CredentialDir, cfg.DeviceSecret)
	if err != nil {
		log.Fatalf("[MAIN] Credential store error: %v", err)
	}

	if *logout {
		if err := store.Delete(credToken); err != nil {
			log.Fatalf("[MAIN] Logout failed: %v", err)
		}
		if err := store.Delete(credUsername); err != nil {
			log.Fatalf("[MAIN] Logout failed: %v", err)
		}
		fmt.Println("Logged out.")
		return
	}

	if *gameID == "" && *venues == "" {
		log.Fatal("[MAIN] -game is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *offline {
		if cfg.ArchiveDatabaseURL == "" {
			log.Fatal("[MAIN] -offline requires ARCHIVE_DATABASE_URL")
		}
		if err := printArchivedTranscript(ctx, cfg.ArchiveDatabaseURL, *gameID); err != nil {
			log.Fatalf("[MAIN] Offline transcript failed: %v", err)
		}
		return
	}

	token, err := resolveToken(ctx, cfg, store, *username, *password, *register)
	if err != nil {
		log.Fatalf("[MAIN] Authentication failed: %v", err)
	}

	identity, err := auth.ParseIdentity(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			log.Fatal("[MAIN] Stored session expired, log in again with -username/-password")
		}
		log.Fatalf("[MAIN] Invalid token: %v", err)
	}
	if identity.Username == "" {
		if stored, err := store.Get(credUsername); err == nil {
			identity.Username = stored
		}
	}

	apiClient := api.New(cfg.ServerURL, token)

	if *venues != "" {
		if cfg.FoursquareKey == "" {
			log.Fatal("[MAIN] -venues requires FSQ_KEY")
		}
		if err := printNearbyVenues(ctx, cfg.FoursquareKey, apiClient, *venues, *lat, *lng, *radius); err != nil {
			log.Fatalf("[MAIN] Venue search failed: %v", err)
		}
		return
	}

	var archiver *archive.Archiver
	if cfg.ArchiveDatabaseURL != "" {
		pool, err := archive.Connect(ctx, cfg.ArchiveDatabaseURL)
		if err != nil {
			log.Fatalf("[MAIN] Archive connect failed: %v", err)
		}
		defer pool.Close()
		archiver = archive.New(pool)
		if err := archiver.EnsureSchema(ctx); err != nil {
			log.Fatalf("[MAIN] Archive schema failed: %v", err)
		}
	}

	sess := chat.NewSession(chat.SessionConfig{
		GameID:         *gameID,
		Identity:       identity,
		Transport:      chat.NewWebsocketTransport(cfg.SocketURL),
		History:        chat.NewRESTHistoryLoader(apiClient),
		ConnectTimeout: cfg.ConnectTimeout,
	})

	if err := sess.Connect(ctx); err != nil {
		log.Fatalf("[MAIN] Connect failed: %v", err)
	}
	defer sess.Close()

	fmt.Printf("Joined game %s as %s. Type to chat, /quit to exit.\n", *gameID, identity.Username)

	go renderUpdates(ctx, sess, archiver, identity)
	go readInput(sess, stop)

	<-ctx.Done()
	fmt.Println("\nLeaving game. Goodbye!")
}

func resolveToken(ctx context.Context, cfg *config.Config, store *credstore.Store, username, password string, register bool) (string, error) {
	if username != "" && password != "" {
		client := api.New(cfg.ServerURL, "")
		var (
			resp *api.AuthResponse
			err  error
		)
		if register {
			resp, err = client.Register(ctx, username, password)
		} else {
			resp, err = client.Login(ctx, username, password)
		}
		if err != nil {
			return "", err
		}
		if err := store.Set(credToken, resp.Token); err != nil {
			return "", err
		}
		if err := store.Set(credUsername, username); err != nil {
			return "", err
		}
		return resp.Token, nil
	}

	token, err := store.Get(credToken)
	if errors.Is(err, credstore.ErrNotFound) {
		return "", errors.New("no stored session, log in with -username/-password")
	}
	return token, err
}

// renderUpdates prints state transitions and newly appended messages.
// In-place optimistic replacements keep the list length, so they are not
// reprinted.
func renderUpdates(ctx context.Context, sess *chat.Session, archiver *archive.Archiver, identity auth.Identity) {
	var lastState chat.State
	printed := 0
	warned := false

	for {
		var u chat.Update
		var ok bool
		select {
		case <-ctx.Done():
			return
		case u, ok = <-sess.Updates():
			if !ok {
				return
			}
		}

		if u.State != lastState {
			lastState = u.State
			fmt.Printf("-- %s --\n", u.State)
		}
		if u.Degraded {
			fmt.Println("-- connection is taking longer than expected --")
		}
		if u.HistoryErr != nil && !warned {
			warned = true
			fmt.Println("-- could not load earlier messages, showing live chat only --")
		}

		for ; printed < len(u.Messages); printed++ {
			printMessage(u.Messages[printed], identity)
		}

		if archiver != nil {
			archiver.Record(ctx, u.Messages)
		}
	}
}

func printMessage(m models.Message, identity auth.Identity) {
	when := m.Timestamp.Local().Format("15:04")
	switch {
	case m.Kind == models.KindSystem:
		fmt.Printf("        * %s\n", m.Body)
	case m.UserID == identity.UserID:
		fmt.Printf("[%s] you: %s\n", when, m.Body)
	default:
		fmt.Printf("[%s] %s: %s\n", when, m.Username, m.Body)
	}
}

func readInput(sess *chat.Session, stop func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/leave":
			stop()
			return
		}

		err := sess.Send(line)
		switch {
		case errors.Is(err, chat.ErrNotConnected):
			fmt.Println("-- not connected, message kept as draft; press enter to retry --")
			go retryDraft(sess)
		case errors.Is(err, chat.ErrSessionClosed):
			return
		case err != nil:
			log.Printf("[MAIN] Send failed: %v", err)
		}
	}
	stop()
}

// retryDraft waits briefly for the reconnect and replays the kept draft.
func retryDraft(sess *chat.Session) {
	for i := 0; i < 30; i++ {
		time.Sleep(time.Second)
		draft := sess.Draft()
		if draft == "" {
			return
		}
		if sess.State() != chat.StateConnected {
			continue
		}
		if err := sess.Send(draft); err == nil {
			fmt.Println("-- draft sent --")
			return
		}
	}
}

// printNearbyVenues lists venues matching the sport query around the
// given coordinates, with the number of scheduled games at each.
func printNearbyVenues(ctx context.Context, fsqKey string, apiClient *api.Client, query string, lat, lng float64, radiusMiles int) error {
	found, err := places.New(fsqKey).Search(ctx, query, lat, lng, radiusMiles*1609)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No venues found.")
		return nil
	}
	for _, p := range found {
		line := fmt.Sprintf("%s (%dm)", p.Name, p.Distance)
		if p.Location.FormattedAddress != "" {
			line += " - " + p.Location.FormattedAddress
		}
		games, err := apiClient.GamesForLocation(ctx, p.FsqID)
		if err != nil {
			log.Printf("[MAIN] Game lookup for venue %s failed: %v", p.FsqID, err)
		} else if len(games) > 0 {
			line += fmt.Sprintf("  [%d game(s) scheduled]", len(games))
		}
		fmt.Println(line)
	}
	return nil
}

func printArchivedTranscript(ctx context.Context, databaseURL, gameID string) error {
	pool, err := archive.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	archiver := archive.New(pool)
	msgs, err := archiver.Fetch(ctx, gameID, 500, time.Time{})
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No archived messages for this game.")
		return nil
	}
	for _, m := range msgs {
		printMessage(m, auth.Identity{})
	}
	return nil
}
