package rps

import (
	"fmt"
	"strings"
)

// Counting selects how rounds count toward completing a match.
type Counting string

const (
	// CountDecisive plays best-of-Rounds over decisive (non-draw) rounds: the
	// match ends as soon as one side holds a majority of Rounds, so 2-0 ends a
	// best-of-3, or once Rounds decisive rounds are played. Drawn rounds are
	// replayed.
	CountDecisive Counting = "decisive"
	// CountFixed ends the match after exactly Policy.Rounds rounds, draws included.
	CountFixed Counting = "fixed"
)

// ParseCounting accepts the config spelling of a counting mode.
func ParseCounting(s string) (Counting, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "decisive":
		return CountDecisive, nil
	case "fixed":
		return CountFixed, nil
	default:
		return "", fmt.Errorf("unknown round counting %q", s)
	}
}

// Policy is the win-threshold configuration applied to every match.
type Policy struct {
	Counting Counting
	Rounds   int
	// MaxRounds caps rounds played under CountDecisive so a streak of draws
	// cannot keep a match open forever. Zero means 3*Rounds.
	MaxRounds int
}

// DefaultPolicy is best-of-3 decisive rounds.
func DefaultPolicy() Policy {
	return Policy{Counting: CountDecisive, Rounds: 3}
}

func (p Policy) Validate() error {
	if p.Rounds < 1 {
		return fmt.Errorf("rounds must be positive, got %d", p.Rounds)
	}
	if p.Counting != CountDecisive && p.Counting != CountFixed {
		return fmt.Errorf("unknown round counting %q", p.Counting)
	}
	if p.MaxRounds != 0 && p.MaxRounds < p.Rounds {
		return fmt.Errorf("max rounds %d below rounds %d", p.MaxRounds, p.Rounds)
	}
	return nil
}

// RoundCap returns the hard upper bound on rounds played in one match.
func (p Policy) RoundCap() int {
	if p.Counting == CountFixed {
		return p.Rounds
	}
	if p.MaxRounds > 0 {
		return p.MaxRounds
	}
	return 3 * p.Rounds
}

// Done reports whether a match with the given totals has reached its threshold.
func (p Policy) Done(roundsPlayed, scoreA, scoreB int) bool {
	if roundsPlayed >= p.RoundCap() {
		return true
	}
	if p.Counting == CountDecisive {
		return max(scoreA, scoreB) > p.Rounds/2 || scoreA+scoreB >= p.Rounds
	}
	return false
}
