package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MRamiBalles/MafiaGemelos/server/internal/budget"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/role"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/domain/rules"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/events"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/logger"
	"github.com/MRamiBalles/MafiaGemelos/server/internal/platform/metrics"
)

// Game owns the authoritative state of one table. Every change goes through
// emitLocked: append to the log, then apply to the projection, under mu.
type Game struct {
	mu    sync.Mutex
	id    string
	log   *events.EventLog
	state *State

	guard     *budget.Guard
	agents    map[string]Agent
	logger    *logger.Logger
	metrics   *metrics.Collector
	snapshots events.SnapshotStore

	snapshotEvery int
	concurrency   int
	phaseStarted  time.Time

	wake   chan struct{}
	cancel context.CancelFunc
	fatal  error
}

// gameConfig collects options before the log exists.
type gameConfig struct {
	persister     events.EventPersister
	logOpts       []events.Option
	budget        budget.Config
	prices        *budget.PriceTable
	agents        map[string]Agent
	logger        *logger.Logger
	metrics       *metrics.Collector
	snapshots     events.SnapshotStore
	snapshotEvery int
	concurrency   int
}

// GameOption configures a Game.
type GameOption func(*gameConfig)

// WithPersister makes every event durable before it is applied.
func WithPersister(p events.EventPersister) GameOption {
	return func(c *gameConfig) { c.persister = p }
}

// WithClock sets the event timestamp source.
func WithClock(now func() time.Time) GameOption {
	return func(c *gameConfig) { c.logOpts = append(c.logOpts, events.WithClock(now)) }
}

// WithBudget sets the spending ceilings and price table.
func WithBudget(cfg budget.Config, prices *budget.PriceTable) GameOption {
	return func(c *gameConfig) {
		c.budget = cfg
		c.prices = prices
	}
}

// WithAgents seats agents by player id. Players without an agent act through
// the Submit methods.
func WithAgents(agents map[string]Agent) GameOption {
	return func(c *gameConfig) {
		for id, a := range agents {
			c.agents[id] = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) GameOption {
	return func(c *gameConfig) { c.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) GameOption {
	return func(c *gameConfig) { c.metrics = m }
}

// WithSnapshots stores a snapshot every n events.
func WithSnapshots(store events.SnapshotStore, every int) GameOption {
	return func(c *gameConfig) {
		c.snapshots = store
		c.snapshotEvery = every
	}
}

// WithConcurrency bounds concurrent agent calls per phase. 1 is sequential.
func WithConcurrency(n int) GameOption {
	return func(c *gameConfig) { c.concurrency = n }
}

func buildConfig(opts []GameOption) gameConfig {
	cfg := gameConfig{
		budget:      budget.DefaultConfig(),
		agents:      make(map[string]Agent),
		logger:      logger.NewNopLogger(),
		metrics:     metrics.Get(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}
	return cfg
}

func newGame(id string, log *events.EventLog, state *State, cfg gameConfig) *Game {
	g := &Game{
		id:            id,
		log:           log,
		state:         state,
		guard:         budget.NewGuard(cfg.budget, cfg.prices),
		agents:        cfg.agents,
		logger:        cfg.logger.With("game " + shortID(id)),
		metrics:       cfg.metrics,
		snapshots:     cfg.snapshots,
		snapshotEvery: cfg.snapshotEvery,
		concurrency:   cfg.concurrency,
		phaseStarted:  time.Now(),
		wake:          make(chan struct{}, 1),
	}
	g.guard.Reset(state.Budget)
	return g
}

// NewGame creates an empty game. Call Setup before Run.
func NewGame(id string, opts ...GameOption) *Game {
	cfg := buildConfig(opts)
	log := events.NewEventLog(id, cfg.persister, cfg.logOpts...)
	return newGame(id, log, NewState(), cfg)
}

// ID returns the game id.
func (g *Game) ID() string { return g.id }

// Subscribe forwards every appended event to fn. fn must not block.
func (g *Game) Subscribe(fn func(events.GameEvent)) {
	g.log.Subscribe(fn)
}

// State returns a copy of the current projection.
func (g *Game) State() *State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Clone()
}

// View returns the projection masked for v.
func (g *Game) View(v events.Viewer) View {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.ViewFor(v)
}

// ViewerFor returns the log viewer of a seated player.
func (g *Game) ViewerFor(playerID string) events.Viewer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.ViewerFor(playerID)
}

// SeatAgents attaches agents to players that have none, as after a restore.
func (g *Game) SeatAgents(agents map[string]Agent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, a := range agents {
		if _, ok := g.agents[id]; !ok {
			g.agents[id] = a
		}
	}
}

// Seated reports whether playerID holds a seat.
func (g *Game) Seated(playerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Player(playerID) != nil
}

// Events returns the events after seq that pass f.
func (g *Game) Events(seq uint64, f events.Filter) []events.GameEvent {
	return g.log.Since(seq, f)
}

// History returns the full log.
func (g *Game) History() []events.GameEvent {
	return g.log.All()
}

// LastSequence returns the sequence of the newest event.
func (g *Game) LastSequence() uint64 {
	return g.log.LastSequence()
}

// LatestSnapshot returns the newest stored snapshot.
func (g *Game) LatestSnapshot(ctx context.Context) (events.Snapshot, error) {
	if g.snapshots == nil {
		return events.Snapshot{}, events.ErrNoSnapshot
	}
	return g.snapshots.LatestSnapshot(ctx, g.id)
}

// Err returns the fatal error that halted the game, if any.
func (g *Game) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fatal
}

// Summary is the registry listing of a game.
type Summary struct {
	ID       string       `json:"id"`
	Status   Status       `json:"status"`
	Phase    Phase        `json:"phase"`
	Day      int          `json:"day"`
	Alive    int          `json:"alive"`
	Players  int          `json:"players"`
	Winner   role.Faction `json:"winner,omitempty"`
	Sequence uint64       `json:"sequence"`
}

// Summary describes the game for listings.
func (g *Game) Summary() Summary {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Summary{
		ID:       g.id,
		Status:   g.state.Status,
		Phase:    g.state.Phase,
		Day:      g.state.Day,
		Alive:    len(g.state.Alive()),
		Players:  len(g.state.Players),
		Winner:   g.state.Winner,
		Sequence: g.state.LastSequence,
	}
}

// emitLocked is the single mutation point: it appends d to the log and folds
// the stored event into the projection. Any failure is fatal to the game.
func (g *Game) emitLocked(ctx context.Context, d events.Draft) (events.GameEvent, error) {
	if g.fatal != nil {
		return events.GameEvent{}, g.fatal
	}
	if d.Day == 0 {
		d.Day = g.state.Day
	}
	start := time.Now()
	evt, err := g.log.Append(ctx, d)
	g.metrics.RecordEventWrite(time.Since(start), err)
	if err != nil {
		g.fatal = err
		g.logger.Errorf("append %s: %v", d.Type, err)
		return events.GameEvent{}, err
	}
	if err := g.state.Apply(evt); err != nil {
		g.fatal = fmt.Errorf("apply seq %d: %w", evt.Sequence, err)
		g.logger.Error(g.fatal.Error())
		return evt, g.fatal
	}
	g.logger.Event(string(evt.Type), evt.ActorID, fmt.Sprintf("seq=%d vis=%s", evt.Sequence, evt.Visibility))
	g.maybeSnapshotLocked(ctx, evt)
	return evt, nil
}

func (g *Game) maybeSnapshotLocked(ctx context.Context, evt events.GameEvent) {
	if g.snapshots == nil || g.snapshotEvery <= 0 || evt.Sequence%uint64(g.snapshotEvery) != 0 {
		return
	}
	raw, err := g.state.Canonical()
	if err == nil {
		err = g.snapshots.SaveSnapshot(ctx, events.Snapshot{
			GameID:    g.id,
			Sequence:  evt.Sequence,
			State:     raw,
			CreatedAt: evt.Timestamp,
		})
	}
	if err != nil {
		g.logger.Warnf("snapshot at seq %d: %v", evt.Sequence, err)
	}
}

func (g *Game) notify() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Setup assigns roles, validates the composition and opens the first night.
func (g *Game) Setup(ctx context.Context, setup Setup) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.LastSequence > 0 {
		return fmt.Errorf("game %s is already set up", g.id)
	}
	sets, err := dealRoles(setup)
	if err != nil {
		return err
	}
	house := setup.Rules.withDefaults()
	if err := role.ValidateComposition(sets, house.Stacking); err != nil {
		return err
	}

	seats := make([]SeatPayload, len(setup.Seats))
	seen := make(map[string]bool, len(setup.Seats))
	for i, s := range setup.Seats {
		if s.ID == "" || s.ID == Abstain || seen[s.ID] {
			return fmt.Errorf("seat %d: invalid or duplicate player id %q", i, s.ID)
		}
		seen[s.ID] = true
		seats[i] = SeatPayload{ID: s.ID, DisplayName: s.DisplayName, Seat: i}
	}

	if _, err := g.emitLocked(ctx, events.Draft{
		Type:    events.EventTypeGameCreated,
		Payload: GameCreatedPayload{GameID: g.id, Seed: setup.Seed, Rules: house, Seats: seats, Budget: g.guard.Config()},
	}); err != nil {
		return err
	}

	var mafia []string
	for i, set := range sets {
		if set.Faction() == role.FactionMafia {
			mafia = append(mafia, setup.Seats[i].ID)
		}
	}
	resolver := role.NewResolver()
	for i, set := range sets {
		id := setup.Seats[i].ID
		payload := RoleAssignedPayload{PlayerID: id, Roles: set}
		if set.Faction() == role.FactionMafia {
			for _, m := range mafia {
				if m != id {
					payload.Teammates = append(payload.Teammates, m)
				}
			}
		}
		if _, err := g.emitLocked(ctx, events.Draft{
			Type: events.EventTypeRoleAssigned, Visibility: events.VisibilityActor, ActorID: id, Payload: payload,
		}); err != nil {
			return err
		}
		if brief := resolver.Briefing(set); brief != "" {
			if _, err := g.emitLocked(ctx, events.Draft{
				Type: events.EventTypeRoleConflict, Visibility: events.VisibilityActor, ActorID: id,
				Payload: ConflictPayload{PlayerID: id, Addendum: brief},
			}); err != nil {
				return err
			}
		}
	}

	if err := g.setStatusLocked(ctx, StatusRunning, "setup complete"); err != nil {
		return err
	}
	g.metrics.RecordGame(false)
	g.logger.Infof("set up %d seats, seed %d, tie policy %s", len(sets), setup.Seed, house.TiePolicy)
	return g.enterPhaseLocked(ctx, PhaseNight, 1)
}

// dealRoles returns the role set of every seat: explicit per seat, or the deck
// dealt with a seed-derived shuffle.
func dealRoles(setup Setup) ([]role.Set, error) {
	n := len(setup.Seats)
	explicit := 0
	for _, s := range setup.Seats {
		if len(s.Roles) > 0 {
			explicit++
		}
	}
	sets := make([]role.Set, n)
	switch {
	case explicit == n && n > 0:
		for i, s := range setup.Seats {
			sets[i] = role.NewSet(s.Roles...)
		}
	case explicit == 0 && len(setup.Deck) == n:
		perm := seededRand(setup.Seed, purposeDeal, 0).Perm(n)
		for i := range setup.Seats {
			sets[i] = role.NewSet(setup.Deck[perm[i]]...)
		}
	case explicit == 0:
		return nil, fmt.Errorf("%w: deck has %d role sets for %d seats", role.ErrInvalidComposition, len(setup.Deck), n)
	default:
		return nil, fmt.Errorf("%w: roles given for %d of %d seats", role.ErrInvalidComposition, explicit, n)
	}
	return sets, nil
}

func (g *Game) setStatusLocked(ctx context.Context, to Status, reason string) error {
	_, err := g.emitLocked(ctx, events.Draft{
		Type:    events.EventTypeStatusChanged,
		Payload: StatusChangedPayload{From: g.state.Status, To: to, Reason: reason},
	})
	return err
}

func (g *Game) enterPhaseLocked(ctx context.Context, to Phase, day int) error {
	if to == PhaseNight && !g.rolesAssignedLocked() {
		return ErrNotSetUp
	}
	if !canTransition(g.state.Phase, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", g.state.Phase, to)
	}
	payload := PhaseChangedPayload{From: g.state.Phase, To: to, Day: day, Round: g.state.Round + 1}
	if d := g.deadlineLocked(to); d > 0 {
		payload.Deadline = d.String()
	}
	if _, err := g.emitLocked(ctx, events.Draft{Type: events.EventTypePhaseChanged, Day: day, Payload: payload}); err != nil {
		return err
	}
	g.metrics.RecordPhase(time.Since(g.phaseStarted))
	g.phaseStarted = time.Now()
	g.notify()
	return nil
}

func (g *Game) rolesAssignedLocked() bool {
	if len(g.state.Players) == 0 {
		return false
	}
	for _, p := range g.state.Players {
		if len(p.Roles) == 0 {
			return false
		}
	}
	return true
}

func (g *Game) deadlineLocked(phase Phase) time.Duration {
	d := g.state.Rules.Deadlines
	switch phase {
	case PhaseNight:
		return d.Night
	case PhaseDiscussion:
		return d.Discussion
	case PhaseVoting:
		return d.Voting
	}
	return 0
}

func (g *Game) rejectLocked(ctx context.Context, actorID, action, targetID string, aerr *ActionError) error {
	g.metrics.RecordRejection()
	if _, err := g.emitLocked(ctx, events.Draft{
		Type: events.EventTypeActionRejected, Visibility: events.VisibilityActor, ActorID: actorID,
		Payload: RejectionPayload{
			ActorID: actorID, Phase: g.state.Phase, Action: action, TargetID: targetID,
			Code: aerr.Code, Reason: aerr.Reason,
		},
	}); err != nil {
		return err
	}
	return aerr
}

// rejectionActor keeps ACTION_REJECTED readable when the actor is unknown.
func rejectionActor(id string) string {
	if id == "" {
		return "unknown"
	}
	return id
}

// SubmitNightAction records a night action for the current night.
func (g *Game) SubmitNightAction(ctx context.Context, a NightAction) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.activeLocked(); err != nil {
		return err
	}
	return g.submitNightLocked(ctx, a)
}

func (g *Game) submitNightLocked(ctx context.Context, a NightAction) error {
	if aerr := g.state.checkNightAction(a); aerr != nil {
		return g.rejectLocked(ctx, rejectionActor(a.ActorID), string(a.Kind), a.TargetID, aerr)
	}
	d := events.Draft{Type: events.EventTypeNightAction, Visibility: events.VisibilityActor, ActorID: a.ActorID, Payload: a}
	if a.Kind == ActionKill {
		d.Visibility = events.VisibilityTeam
		d.Team = string(role.FactionMafia)
	}
	if _, err := g.emitLocked(ctx, d); err != nil {
		return err
	}
	g.notify()
	return nil
}

// SubmitVote casts or replaces voterID's ballot for the current day.
func (g *Game) SubmitVote(ctx context.Context, voterID, targetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.activeLocked(); err != nil {
		return err
	}
	return g.submitVoteLocked(ctx, Vote{VoterID: voterID, TargetID: targetID})
}

func (g *Game) submitVoteLocked(ctx context.Context, v Vote) error {
	if aerr := g.state.checkVote(v.VoterID, v.TargetID); aerr != nil {
		return g.rejectLocked(ctx, rejectionActor(v.VoterID), "VOTE", v.TargetID, aerr)
	}
	if _, err := g.emitLocked(ctx, events.Draft{Type: events.EventTypeVoteCast, ActorID: v.VoterID, Payload: v}); err != nil {
		return err
	}
	g.notify()
	return nil
}

// SubmitStatement records a statement. By day it is public; by night only the
// mafia may speak, on its own channel.
func (g *Game) SubmitStatement(ctx context.Context, playerID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.activeLocked(); err != nil {
		return err
	}
	return g.submitStatementLocked(ctx, playerID, text)
}

func (g *Game) submitStatementLocked(ctx context.Context, playerID, text string) error {
	text = strings.TrimSpace(text)
	vis, aerr := g.state.checkStatement(playerID, text)
	if aerr != nil {
		return g.rejectLocked(ctx, rejectionActor(playerID), "STATEMENT", "", aerr)
	}
	d := events.Draft{
		Type: events.EventTypeStatement, Visibility: vis, ActorID: playerID,
		Payload: SpeechPayload{PlayerID: playerID, Phase: g.state.Phase, Text: text},
	}
	if vis == events.VisibilityTeam {
		d.Team = string(role.FactionMafia)
	}
	_, err := g.emitLocked(ctx, d)
	return err
}

func (g *Game) recordReasoningLocked(ctx context.Context, playerID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := g.emitLocked(ctx, events.Draft{
		Type: events.EventTypeReasoning, Visibility: events.VisibilityActor, ActorID: playerID,
		Payload: SpeechPayload{PlayerID: playerID, Phase: g.state.Phase, Text: text},
	})
	return err
}

func (g *Game) activeLocked() error {
	if g.fatal != nil {
		return g.fatal
	}
	if g.state.Finished() {
		return ErrGameFinished
	}
	if g.state.LastSequence == 0 {
		return ErrNotSetUp
	}
	return nil
}

// Pause halts phase progression after the current step.
func (g *Game) Pause(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.activeLocked(); err != nil {
		return err
	}
	if g.state.Status == StatusPaused {
		return nil
	}
	return g.setStatusLocked(ctx, StatusPaused, "paused")
}

// Resume continues a paused game.
func (g *Game) Resume(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.activeLocked(); err != nil {
		return err
	}
	if g.state.Status != StatusPaused {
		return nil
	}
	if err := g.setStatusLocked(ctx, StatusRunning, "resumed"); err != nil {
		return err
	}
	g.notify()
	return nil
}

// Stop cancels in-flight agent calls and finishes the game without a winner.
func (g *Game) Stop(ctx context.Context, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
	}
	if err := g.activeLocked(); err != nil {
		if errors.Is(err, ErrGameFinished) {
			return nil
		}
		return err
	}
	if reason == "" {
		reason = "stopped"
	}
	return g.endLocked(ctx, "", reason)
}

func (g *Game) endLocked(ctx context.Context, winner role.Faction, reason string) error {
	roles := make(map[string]role.Set, len(g.state.Players))
	for _, p := range g.state.Players {
		roles[p.ID] = p.Roles
	}
	if _, err := g.emitLocked(ctx, events.Draft{
		Type: events.EventTypeGameEnded,
		Payload: GameEndedPayload{
			Winner: winner, Reason: reason, Day: g.state.Day,
			Headcount: rules.Count(g.state.Players), Roles: roles,
		},
	}); err != nil {
		return err
	}
	g.metrics.RecordGame(true)
	g.logger.Infof("game over on day %d: winner=%q (%s)", g.state.Day, winner, reason)
	g.notify()
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
