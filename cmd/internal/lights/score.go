package lights

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"
	"unicode/utf8"

	v1 "github.com/Aaliyah097/bochat/shared/contracts/chat/v1"
)

// DefaultBothOnlineWindow is the maximum gap between two messages from different
// authors for both participants to count as online.
const DefaultBothOnlineWindow = 15 * time.Second

// simpleChance is the award probability for first/friends tiers without both-online.
const simpleChance = 0.35

// Rand is the randomness source used by the roll. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// globalRand uses the math/rand/v2 top-level functions, which are safe for concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// ScoringContext is the input of one scoring decision. It is never persisted.
type ScoringContext struct {
	Message    v1.Message
	Previous   *v1.Message
	BothOnline bool
	Tier       Layer
}

// NewScoringContext derives BothOnline from the message pair.
func NewScoringContext(msg v1.Message, prev *v1.Message, tier Layer, window time.Duration) ScoringContext {
	return ScoringContext{
		Message:    msg,
		Previous:   prev,
		BothOnline: BothOnline(msg, prev, window),
		Tier:       tier,
	}
}

// BothOnline reports whether prev was written by the other participant within window of msg.
func BothOnline(msg v1.Message, prev *v1.Message, window time.Duration) bool {
	if prev == nil || prev.UserID == msg.UserID {
		return false
	}
	if msg.CreatedAt.IsZero() || prev.CreatedAt.IsZero() {
		return false
	}
	gap := msg.CreatedAt.Sub(prev.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap <= window
}

// Alternating reports whether msg answers a message from another author.
// With no previous message the message is its own predecessor.
func Alternating(msg v1.Message, prev *v1.Message) bool {
	return prev != nil && prev.UserID != msg.UserID
}

// Base is the deterministic part of the award.
func Base(text string, alternating, bothOnline bool) int {
	words := len(strings.Fields(text))
	chars := utf8.RuneCountInString(text)
	alt := 0.0
	if alternating {
		alt = 1
	}
	base := int(math.RoundToEven(float64(words)/100 + float64(chars)/20 + 2*alt))
	if bothOnline {
		base *= 2
	}
	return base
}

// TimeDiffMinutes is the rounded gap between msg and prev. Missing timestamps
// and negative gaps count as 0.
func TimeDiffMinutes(msg v1.Message, prev *v1.Message) int {
	if prev == nil || msg.CreatedAt.IsZero() || prev.CreatedAt.IsZero() {
		return 0
	}
	secs := msg.CreatedAt.Sub(prev.CreatedAt).Seconds()
	if secs <= 0 {
		return 0
	}
	return int(math.RoundToEven(secs / 60))
}

type outcome struct {
	amount int
	p      float64
}

var (
	tableRecent = []outcome{{0, 0.50}, {1, 0.25}, {2, 0.15}, {3, 0.10}}
	tableMid    = []outcome{{0, 0.10}, {1, 0.25}, {2, 0.35}, {3, 0.30}}
	tableLong   = []outcome{{0, 0.10}, {1, 0.15}, {2, 0.25}, {3, 0.50}}
)

func tableFor(minutes int) []outcome {
	switch {
	case minutes >= 480:
		return tableLong
	case minutes >= 30:
		return tableMid
	default:
		return tableRecent
	}
}

// pick returns the first amount whose cumulative probability reaches chance.
func pick(table []outcome, chance float64) int {
	cum := 0.0
	for _, o := range table {
		cum += o.p
		if chance <= cum {
			return o.amount
		}
	}
	return table[len(table)-1].amount
}

// Roll draws the randomized award for a non-zero base.
func Roll(minutes int, bothOnline bool, tier Layer, r Rand) int {
	chance := r.Float64()
	if bothOnline || tier == LayerSecond {
		return pick(tableFor(minutes), chance)
	}
	if chance <= simpleChance {
		return 1 + r.IntN(3)
	}
	return 0
}

// Evaluate computes the award for sc without touching any ledger.
func Evaluate(sc ScoringContext, r Rand) int {
	base := Base(sc.Message.Text, Alternating(sc.Message, sc.Previous), sc.BothOnline)
	if base == 0 {
		return 0
	}
	return Roll(TimeDiffMinutes(sc.Message, sc.Previous), sc.BothOnline, sc.Tier, r)
}
