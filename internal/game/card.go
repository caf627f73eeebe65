// Package game implements the cards, hands and play-legality rules for the
// UNO-style table hosted by Tavolo.
package game

import (
	"fmt"
	"math/rand/v2"
)

// Kind separates colored cards from the colorless wild cards.
type Kind uint8

const (
	KindNormal  Kind = iota // 100 cards out of 108
	KindSpecial             // 8 cards out of 108
)

// Color of a normal card, or the color chosen for a wild card after play.
type Color uint8

const (
	Red Color = iota
	Green
	Blue
	Yellow
)

// colorNames maps Color values to their display names.
var colorNames = map[Color]string{
	Red:    "Rosso",
	Green:  "Verde",
	Blue:   "Blu",
	Yellow: "Giallo",
}

// String returns the display name of the color.
func (c Color) String() string {
	if s, ok := colorNames[c]; ok {
		return s
	}
	return fmt.Sprintf("colore(%d)", uint8(c))
}

// Valid reports whether the color is one of the four playable colors.
func (c Color) Valid() bool {
	return c <= Yellow
}

// Rank of a normal card. Each color has one zero and two copies of every
// other rank, matching the 108-card deck composition.
type Rank uint8

const (
	Zero Rank = iota
	One
	Two
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	DrawTwo
	Reverse
	Skip
)

func (r Rank) String() string {
	switch {
	case r <= Nine:
		return fmt.Sprintf("%d", uint8(r))
	case r == DrawTwo:
		return "+2"
	case r == Reverse:
		return "CambioGiro"
	case r == Skip:
		return "Blocco"
	default:
		return fmt.Sprintf("rank(%d)", uint8(r))
	}
}

// Special is the sub-kind of a wild card.
type Special uint8

const (
	WildDrawFour Special = iota
	Wild
)

func (s Special) String() string {
	switch s {
	case WildDrawFour:
		return "+4"
	case Wild:
		return "CambiaColore"
	default:
		return fmt.Sprintf("special(%d)", uint8(s))
	}
}

// Card is a single playing card. Normal cards carry a rank and a color;
// special (wild) cards carry a sub-kind, and gain a color only when played.
// The ID identifies the card inside its owner's hand and is absent on cards
// that are not held by anyone (e.g. the initial table card).
type Card struct {
	ID      *uint32  `json:"id,omitempty"`
	Kind    Kind     `json:"kind"`
	Color   *Color   `json:"color,omitempty"`
	Rank    *Rank    `json:"rank,omitempty"`
	Special *Special `json:"special,omitempty"`
}

// NewNormal builds a colored card.
func NewNormal(rank Rank, color Color) Card {
	return Card{Kind: KindNormal, Rank: &rank, Color: &color}
}

// NewSpecial builds a wild card with no color assigned yet.
func NewSpecial(special Special) Card {
	return Card{Kind: KindSpecial, Special: &special}
}

// WithColor returns a copy of the card with the given color assigned.
// Used when a wild card is played and the player chooses its color.
func (c Card) WithColor(color Color) Card {
	c.Color = &color
	return c
}

// WithID returns a copy of the card carrying the given hand ID.
func (c Card) WithID(id uint32) Card {
	c.ID = &id
	return c
}

// IsWild reports whether the card is a wild card (plain or draw-four).
func (c Card) IsWild() bool {
	return c.Kind == KindSpecial
}

// PlayableOn reports whether the card may legally be placed on the given
// table card. A wild card is always playable. A non-wild card is playable
// when its color matches the table card's (chosen) color, or when both are
// normal cards of the same rank.
func (c Card) PlayableOn(table Card) bool {
	if c.Kind == KindSpecial {
		return true
	}
	if c.Color != nil && table.Color != nil && *c.Color == *table.Color {
		return true
	}
	if c.Kind == KindNormal && table.Kind == KindNormal && *c.Rank == *table.Rank {
		return true
	}
	return false
}

func (c Card) String() string {
	switch c.Kind {
	case KindNormal:
		return fmt.Sprintf("%s-%s", c.Rank.String(), c.Color.String())
	case KindSpecial:
		if c.Color != nil {
			return fmt.Sprintf("%s-%s", c.Special.String(), c.Color.String())
		}
		return c.Special.String()
	default:
		return "carta sconosciuta"
	}
}

// Deck composition constants. The generator draws with the probabilities of
// a standard 108-card deck: 8 wilds (4 plain, 4 draw-four) and, per color,
// one zero plus two copies of every other rank.
const (
	deckSize        = 108
	specialCount    = 8
	rankUnitsPerSet = 25 // one zero + two of each of the other twelve ranks
)

// rankByUnit is a precomputed discrete distribution table: index i holds the
// rank drawn when a uniform integer in [0, rankUnitsPerSet) equals i. Using
// integer buckets avoids the float boundary issues of cumulative scanning.
var rankByUnit = buildRankTable()

func buildRankTable() [rankUnitsPerSet]Rank {
	var table [rankUnitsPerSet]Rank
	table[0] = Zero
	for i := 1; i < rankUnitsPerSet; i++ {
		table[i] = Rank((i + 1) / 2)
	}
	return table
}

// randomCard draws a card using the given uniform integer source.
// The source must return a uniform value in [0, n) for any n.
func randomCard(intn func(n int) int) Card {
	n := intn(deckSize)
	if n < specialCount {
		if n < specialCount/2 {
			return NewSpecial(Wild)
		}
		return NewSpecial(WildDrawFour)
	}
	rank := rankByUnit[intn(rankUnitsPerSet)]
	color := Color(intn(4))
	return NewNormal(rank, color)
}

// Random draws a card following the 108-card deck probabilities.
func Random() Card {
	return randomCard(rand.IntN)
}

// RandomNormal draws a normal (colored) card; used for the initial table
// card, which may never be a wild.
func RandomNormal() Card {
	rank := rankByUnit[rand.IntN(rankUnitsPerSet)]
	color := Color(rand.IntN(4))
	return NewNormal(rank, color)
}
