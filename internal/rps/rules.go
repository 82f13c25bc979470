package rps

import "strings"

// Move is a single rock-paper-scissors choice.
type Move string

const (
	Rock     Move = "rock"
	Paper    Move = "paper"
	Scissors Move = "scissors"
)

// Outcome identifies which side of a pairing won.
type Outcome int

const (
	Draw Outcome = iota
	SideA
	SideB
)

func (o Outcome) String() string {
	switch o {
	case SideA:
		return "A"
	case SideB:
		return "B"
	default:
		return "draw"
	}
}

// beats maps each move to the move it defeats.
var beats = map[Move]Move{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// ParseMove normalizes raw client input. Unknown moves report ok=false.
func ParseMove(raw string) (Move, bool) {
	m := Move(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := beats[m]; !ok {
		return "", false
	}
	return m, true
}

// Valid reports whether m is one of the three playable moves.
func (m Move) Valid() bool {
	_, ok := beats[m]
	return ok
}

// ResolveRound decides a single round. Equal moves draw.
func ResolveRound(a, b Move) Outcome {
	switch {
	case a == b:
		return Draw
	case beats[a] == b:
		return SideA
	default:
		return SideB
	}
}

// ResolveMatch decides a match from cumulative round wins.
func ResolveMatch(scoreA, scoreB int) Outcome {
	switch {
	case scoreA > scoreB:
		return SideA
	case scoreB > scoreA:
		return SideB
	default:
		return Draw
	}
}
