package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/engine"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/network"
)

type loadOptions struct {
	BaseURL    string
	Games      int
	Players    int
	Spectators int
	Seed       int64
	Interval   time.Duration
	Duration   time.Duration
	Output     string
}

// Stats tracks what every socket saw.
type Stats struct {
	Sockets   int64           `json:"sockets"`
	Sent      int64           `json:"commands_sent"`
	Accepted  int64           `json:"commands_accepted"`
	Rejected  int64           `json:"commands_rejected"`
	Received  int64           `json:"events_received"`
	Errors    int64           `json:"errors"`
	Ended     int64           `json:"sockets_ended"`
	Verified  int64           `json:"tables_verified"`
	Leaks     int64           `json:"leaked_events"`
	FirstByte []time.Duration `json:"-"`
	mu        sync.Mutex
}

func (s *Stats) firstByte(d time.Duration) {
	s.mu.Lock()
	s.FirstByte = append(s.FirstByte, d)
	s.mu.Unlock()
}

// deckFor deals a quarter of the table to the mafia plus one sheriff and one doctor.
func deckFor(players int) []role.Set {
	mafia := max(players/4, 1)
	deck := make([]role.Set, 0, players)
	for i := 0; i < mafia; i++ {
		deck = append(deck, role.NewSet(role.Mafia))
	}
	deck = append(deck, role.NewSet(role.Sheriff), role.NewSet(role.Doctor))
	for len(deck) < players {
		deck = append(deck, role.NewSet(role.Villager))
	}
	return deck
}

func setupFor(players int, seed int64) engine.Setup {
	seats := make([]engine.SeatSpec, players)
	for i := range seats {
		seats[i] = engine.SeatSpec{ID: fmt.Sprintf("p%d", i+1)}
	}
	return engine.Setup{Seed: seed, Seats: seats, Deck: deckFor(players), Rules: engine.Rules{MaxDays: 6}}
}

// randomCommand mixes plausible and nonsense submissions; the server is
// expected to reject most of them without disturbing the table.
func randomCommand(r *rand.Rand, playerID string, players int) network.Command {
	target := fmt.Sprintf("p%d", r.Intn(players+1)+1)
	switch r.Intn(4) {
	case 0:
		return network.Command{Type: network.CmdAction, PlayerID: playerID, Kind: engine.ActionKill, TargetID: target}
	case 1:
		return network.Command{Type: network.CmdVote, PlayerID: playerID, TargetID: target}
	case 2:
		return network.Command{Type: network.CmdStatement, PlayerID: playerID, Text: "I have been watching " + target}
	default:
		return network.Command{Type: "riot", PlayerID: playerID}
	}
}

func agitate(ctx context.Context, o loadOptions, out io.Writer) (*Stats, error) {
	base := strings.TrimRight(o.BaseURL, "/")
	stats := &Stats{}
	var wg sync.WaitGroup

	for i := 0; i < o.Games; i++ {
		seed := o.Seed + int64(i)
		id, err := createGame(ctx, base, setupFor(o.Players, seed))
		if err != nil {
			return stats, err
		}
		fmt.Fprintf(out, "opened %s (seed %d)\n", id, seed)

		var tableWG sync.WaitGroup
		viewers := make([]string, 0, o.Players+o.Spectators)
		for p := 1; p <= o.Players; p++ {
			viewers = append(viewers, fmt.Sprintf("p%d", p))
		}
		for s := 0; s < o.Spectators; s++ {
			viewers = append(viewers, "")
		}
		for n, viewer := range viewers {
			tableWG.Add(1)
			go func(viewer string, r *rand.Rand) {
				defer tableWG.Done()
				watch(ctx, base, id, viewer, o, r, stats)
			}(viewer, rand.New(rand.NewSource(seed*1000+int64(n))))
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			tableWG.Wait()
			if verify(ctx, base, id) {
				atomic.AddInt64(&stats.Verified, 1)
			} else {
				atomic.AddInt64(&stats.Errors, 1)
			}
		}()
	}
	wg.Wait()
	return stats, nil
}

func createGame(ctx context.Context, base string, setup engine.Setup) (string, error) {
	body, err := json.Marshal(setup)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/games", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create game: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var summary engine.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return "", err
	}
	return summary.ID, nil
}

func verify(ctx context.Context, base, id string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/games/"+id+"/verify", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var v network.VerifyResponse
	return json.NewDecoder(resp.Body).Decode(&v) == nil && v.OK
}

func wsURL(base, id, viewer string) string {
	u, _ := url.Parse(base)
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	q := url.Values{"game": {id}}
	if viewer != "" {
		q.Set("viewer", viewer)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// watch follows one table as viewer until GAME_ENDED or ctx is done. Seated
// viewers also send a command every interval.
func watch(ctx context.Context, base, id, viewer string, o loadOptions, r *rand.Rand, stats *Stats) {
	start := time.Now()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL(base, id, viewer), nil)
	if err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()
	atomic.AddInt64(&stats.Sockets, 1)

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		first := true
		for {
			var msg network.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if first {
				stats.firstByte(time.Since(start))
				first = false
			}
			batch := msg.Events
			if msg.Event != nil {
				batch = append(batch, *msg.Event)
			}
			switch msg.Type {
			case network.MsgTypeAccepted:
				atomic.AddInt64(&stats.Accepted, 1)
			case network.MsgTypeError:
				atomic.AddInt64(&stats.Rejected, 1)
			}
			for _, e := range batch {
				atomic.AddInt64(&stats.Received, 1)
				if viewer == "" && e.Visibility != events.VisibilityPublic {
					atomic.AddInt64(&stats.Leaks, 1)
				}
				if e.Type == events.EventTypeGameEnded {
					atomic.AddInt64(&stats.Ended, 1)
					return
				}
			}
		}
	}()

	var tick <-chan time.Time
	if viewer != "" && o.Interval > 0 {
		ticker := time.NewTicker(o.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ended:
			return
		case <-tick:
			if err := conn.WriteJSON(randomCommand(r, viewer, o.Players)); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.Sent, 1)
		}
	}
}

func report(w io.Writer, stats *Stats, o loadOptions) error {
	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	bad := color.New(color.FgRed, color.Bold).SprintFunc()

	fmt.Fprintln(w, "=========================================")
	fmt.Fprintf(w, "Sockets:           %s\n", humanize.Comma(stats.Sockets))
	fmt.Fprintf(w, "Commands sent:     %s (accepted %s, rejected %s)\n",
		humanize.Comma(stats.Sent), humanize.Comma(stats.Accepted), humanize.Comma(stats.Rejected))
	fmt.Fprintf(w, "Events received:   %s\n", humanize.Comma(stats.Received))
	fmt.Fprintf(w, "Sockets at end:    %d, tables verified %d/%d\n", stats.Ended, stats.Verified, o.Games)
	fmt.Fprintf(w, "Errors:            %d\n", stats.Errors)
	if len(stats.FirstByte) > 0 {
		var total, worst time.Duration
		for _, d := range stats.FirstByte {
			total += d
			worst = max(worst, d)
		}
		fmt.Fprintf(w, "First message:     avg %v, max %v\n", total/time.Duration(len(stats.FirstByte)), worst)
	}
	fmt.Fprintln(w, "-----------------------------------------")

	if o.Output != "" {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.Output, data, 0o644); err != nil {
			return err
		}
	}

	switch {
	case stats.Leaks > 0:
		fmt.Fprintln(w, bad("FAILED: spectators received private events"))
		return fmt.Errorf("%d private events reached spectators", stats.Leaks)
	case stats.Verified < int64(o.Games):
		fmt.Fprintln(w, bad("FAILED: some tables did not verify"))
		return fmt.Errorf("%d of %d tables verified", stats.Verified, o.Games)
	default:
		fmt.Fprintln(w, ok("PASSED: every table verified"))
		return nil
	}
}
