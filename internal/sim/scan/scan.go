// Package scan discovers multi-block structures. The functions are pure:
// they only read the graph and return what they found.
package scan

import "tis3d.dev/internal/sim/machine"

type Kind uint8

const (
	None Kind = iota
	Casing
	Controller
	Unloaded
)

// Graph answers what occupies a block position.
type Graph interface {
	KindAt(p machine.Pos) Kind
}

type Outcome uint8

const (
	ResultNoController Outcome = iota
	ResultController
	ResultTooManyCasings
	ResultBoundary
	ResultMultipleControllers
	ResultValid
)

var outcomeNames = [...]string{"NO_CONTROLLER", "CONTROLLER", "TOO_MANY_CASINGS", "BOUNDARY", "MULTIPLE_CONTROLLERS", "VALID"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "UNKNOWN"
}

type Result struct {
	Outcome Outcome
	// Controller is set for ResultController.
	Controller machine.Pos
	// Casings are the casings visited, in discovery order. For a
	// controller-side scan this is the member list on success and
	// everything reached so far on failure.
	Casings []machine.Pos
}

// FindController walks from a casing until it meets a controller.
func FindController(g Graph, start machine.Pos, limit int) Result {
	visited := map[machine.Pos]bool{start: true}
	queue := []machine.Pos{start}
	var casings []machine.Pos

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		casings = append(casings, p)
		if len(casings) > limit {
			return Result{Outcome: ResultTooManyCasings, Casings: casings}
		}
		for _, f := range machine.Faces {
			n := p.Offset(f)
			if visited[n] {
				continue
			}
			switch g.KindAt(n) {
			case Controller:
				return Result{Outcome: ResultController, Controller: n, Casings: casings}
			case Unloaded:
				return Result{Outcome: ResultBoundary, Casings: casings}
			case Casing:
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return Result{Outcome: ResultNoController, Casings: casings}
}

// Structure collects every casing connected to the controller at origin.
func Structure(g Graph, origin machine.Pos, limit int) Result {
	visited := map[machine.Pos]bool{origin: true}
	queue := []machine.Pos{origin}
	var casings []machine.Pos
	outcome := ResultValid

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, f := range machine.Faces {
			n := p.Offset(f)
			if visited[n] {
				continue
			}
			visited[n] = true
			switch g.KindAt(n) {
			case Controller:
				// Keep walking so the caller can disable the whole set.
				outcome = worse(outcome, ResultMultipleControllers)
			case Unloaded:
				outcome = worse(outcome, ResultBoundary)
			case Casing:
				casings = append(casings, n)
				queue = append(queue, n)
				if len(casings) > limit {
					return Result{Outcome: worse(outcome, ResultTooManyCasings), Casings: casings}
				}
			}
		}
	}
	return Result{Outcome: outcome, Casings: casings}
}

// worse picks the more conservative of two outcomes: structure conflicts
// beat missing information.
func worse(a, b Outcome) Outcome {
	rank := func(o Outcome) int {
		switch o {
		case ResultMultipleControllers:
			return 3
		case ResultTooManyCasings:
			return 2
		case ResultBoundary:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
