package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// SystemPrompt frames every agent turn. The THINK/SAYS split is the contract:
// "think" is never shown to other players, "says" is public.
const SystemPrompt = `
# ROLE: PLAYER IN A GAME OF MAFIA

You are one player at a table of autonomous agents playing Mafia. The town wins
when every mafia member is eliminated. The mafia wins when it matches or
outnumbers the town. Nights are secret, days are public.

## OUTPUT CONTRACT

Every turn you produce two streams:
- THINK: your private reasoning. Nobody else ever reads it.
- SAYS: what you say out loud to the table. You may bluff.

Always answer with JSON in exactly this shape:

{
  "think": "your private reasoning, step by step",
  "says": "your public statement (may be empty at night)",
  "action": {"kind": "KILL|PROTECT|INVESTIGATE|SHOOT|PASS", "target": "player_id"},
  "vote": "player_id or ABSTAIN"
}

Only include "action" when the turn lists night options, and "vote" when the
turn asks for a vote. Targets must be taken from the listed options. If you hold
several night abilities, send "actions": [{"kind": ..., "target": ...}, ...]
with one entry per ability instead of "action".
`

// TurnPrompt is the dynamic part of one agent turn.
type TurnPrompt struct {
	PlayerID  string
	Roles     string
	Phase     string
	Day       int
	Alive     []string
	Teammates []string
	Knowledge []string
	Options   map[string][]string // ability -> valid targets
	VoteFor   []string
	History   []string
	Omitted   int
	Addendum  string
}

// BuildTurnPrompt renders p as the user message of a turn.
func BuildTurnPrompt(p TurnPrompt) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## YOU\n\nYou are %s. Your roles: %s.\n", p.PlayerID, p.Roles)
	if len(p.Teammates) > 0 {
		fmt.Fprintf(&sb, "Your mafia teammates: %s.\n", strings.Join(p.Teammates, ", "))
	}
	for _, k := range p.Knowledge {
		fmt.Fprintf(&sb, "- %s\n", k)
	}
	if p.Addendum != "" {
		fmt.Fprintf(&sb, "\n## PRIVATE CONTEXT\n\n%s\n", p.Addendum)
	}

	fmt.Fprintf(&sb, "\n## TABLE\n\nPhase %s, day %d. Alive: %s.\n", p.Phase, p.Day, strings.Join(p.Alive, ", "))

	sb.WriteString("\n## HISTORY\n\n")
	if p.Omitted > 0 {
		fmt.Fprintf(&sb, "(%d older entries omitted)\n", p.Omitted)
	}
	for _, h := range p.History {
		fmt.Fprintf(&sb, "- %s\n", h)
	}

	sb.WriteString("\n## TASK\n\n")
	switch {
	case len(p.Options) > 0:
		sb.WriteString("Choose your night action. Options:\n")
		for _, kind := range sortedKeys(p.Options) {
			fmt.Fprintf(&sb, "- %s: %s\n", kind, strings.Join(p.Options[kind], ", "))
		}
	case len(p.VoteFor) > 0:
		fmt.Fprintf(&sb, "Vote to eliminate one of: %s, or ABSTAIN.\n", strings.Join(p.VoteFor, ", "))
	default:
		sb.WriteString("Speak to the table. Share suspicions, defend yourself or bluff.\n")
	}
	sb.WriteString("Reason in \"think\" before deciding.\n")
	return sb.String()
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReplyAction is one night action named in a reply.
type ReplyAction struct {
	Kind   string
	Target string
}

// Reply is the structured content of one agent turn.
type Reply struct {
	Think   string
	Says    string
	Actions []ReplyAction
	Vote    string
}

// ParseReply extracts a Reply from model output. It tolerates code fences and
// prose around the JSON object, and accepts "reasoning"/"statement" as aliases.
// Anything that does not yield a JSON object with private reasoning is an
// ErrInvalidResponse.
func ParseReply(content string) (Reply, error) {
	raw := extractJSON(content)
	if raw == "" || !gjson.Valid(raw) {
		return Reply{}, fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return Reply{}, fmt.Errorf("%w: reply is not an object", ErrInvalidResponse)
	}

	r := Reply{
		Think: firstString(doc, "think", "reasoning", "THINK"),
		Says:  firstString(doc, "says", "statement", "SAYS"),
	}
	if r.Think == "" {
		return Reply{}, fmt.Errorf("%w: missing private reasoning", ErrInvalidResponse)
	}

	var actions []gjson.Result
	if action := doc.Get("action"); action.Exists() && action.Type != gjson.Null {
		actions = append(actions, action)
	}
	if list := doc.Get("actions"); list.Exists() && list.Type != gjson.Null {
		if !list.IsArray() {
			return Reply{}, fmt.Errorf("%w: actions must be an array", ErrInvalidResponse)
		}
		actions = append(actions, list.Array()...)
	}
	for _, action := range actions {
		if !action.IsObject() {
			return Reply{}, fmt.Errorf("%w: action must be an object", ErrInvalidResponse)
		}
		a := ReplyAction{
			Kind:   strings.ToUpper(strings.TrimSpace(action.Get("kind").String())),
			Target: strings.TrimSpace(action.Get("target").String()),
		}
		if a.Kind == "" {
			return Reply{}, fmt.Errorf("%w: action without kind", ErrInvalidResponse)
		}
		r.Actions = append(r.Actions, a)
	}
	if vote := doc.Get("vote"); vote.Exists() && vote.Type != gjson.Null {
		if vote.Type != gjson.String {
			return Reply{}, fmt.Errorf("%w: vote must be a string", ErrInvalidResponse)
		}
		r.Vote = strings.TrimSpace(vote.String())
	}
	return r, nil
}

func firstString(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Type == gjson.String {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// extractJSON returns the outermost {...} span of s.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
