// Package dice rolls the six-sided die that drives dice effects and
// dice-determined movement.
package dice

import (
	"math/rand"
	"sync"
)

// Sides is the number of faces on the engine's die.
const Sides = 6

// Roller produces d6 results.
type Roller interface {
	RollD6() int
}

// Seeded is a deterministic Roller.
type Seeded struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded returns a roller whose sequence is fixed by seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: rand.New(rand.NewSource(seed))}
}

// RollD6 returns a value in [1, 6].
func (s *Seeded) RollD6() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(Sides) + 1
}

// Fixed replays a scripted sequence of rolls, cycling when exhausted.
// Scenario scripts and tests use it to force outcomes.
type Fixed struct {
	mu    sync.Mutex
	rolls []int
	next  int
}

// NewFixed returns a roller replaying rolls. Out-of-range values are clamped.
func NewFixed(rolls ...int) *Fixed {
	clamped := make([]int, len(rolls))
	for i, r := range rolls {
		clamped[i] = Clamp(r)
	}
	return &Fixed{rolls: clamped}
}

// Push queues another roll.
func (f *Fixed) Push(roll int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolls = append(f.rolls, Clamp(roll))
}

// RollD6 returns the next scripted roll, or 1 when nothing was scripted.
func (f *Fixed) RollD6() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rolls) == 0 {
		return 1
	}
	roll := f.rolls[f.next%len(f.rolls)]
	f.next++
	return roll
}

// Clamp forces value into [1, 6].
func Clamp(value int) int {
	switch {
	case value < 1:
		return 1
	case value > Sides:
		return Sides
	default:
		return value
	}
}

// Valid reports whether value is a face of the die.
func Valid(value int) bool {
	return value >= 1 && value <= Sides
}
