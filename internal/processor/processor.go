// Package processor implements the Processor Chain: a fixed
// sequence of pluggable processors applied to a SpeedProfileData value once
// per tick for every channel with an active profile binding.
//
//	SafetyLatch(begin)
//	→ FunctionIdentityPreProcessor
//	→ FunctionStandardPreProcessor
//	→ FunctionEMAPreProcessor
//	→ GraphProcessor
//	→ FunctionDutyThresholdPostProcessor
//	→ SafetyLatch(end)
//
// Exactly one of the three Function pre-processors is applicable per tick
// (selected by the profile's Function.Kind); the rest pass data through
// unchanged.
package processor

import (
	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
)

// SpeedProfileData is threaded through the chain for one (channel, profile)
// binding on one tick. Temp and Duty start empty and are filled in by the
// pre-processor and GraphProcessor stages respectively.
type SpeedProfileData struct {
	Profile            model.Profile
	Channel            model.ChannelRef
	Temp               *float64
	Duty               *int
	SafetyLatchTrigger bool
	ProcessingStarted  bool
}

// Processor is one pluggable stage of the chain: applicability,
// per-profile lifecycle hooks, and the transform itself.
type Processor interface {
	IsApplicable(data SpeedProfileData) bool
	InitState(profileUID string)
	ClearState(profileUID string)
	Process(data SpeedProfileData) SpeedProfileData
}

// Logger is the minimal sink the chain's processors need.
type Logger interface {
	Debugf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Errorf(string, ...any) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

// Chain holds the fixed-order processor sequence and dispatches InitState/
// ClearState to every stage when a profile is attached/detached from a
// channel.
type Chain struct {
	stages []Processor
}

// NewChain builds the chain in the fixed runtime order, wired
// against the given Registry for temp lookups and PollRate-sensitive
// per-profile state sizing.
func NewChain(registry *model.Registry, log Logger) *Chain {
	if log == nil {
		log = NopLogger
	}
	latch := NewSafetyLatch(log)
	return &Chain{
		stages: []Processor{
			beginLatch{latch},
			NewIdentityPreProcessor(registry, log),
			NewStandardPreProcessor(registry, log),
			NewEMAPreProcessor(registry, log),
			NewGraphProcessor(),
			NewDutyThresholdPostProcessor(log),
			endLatch{latch},
		},
	}
}

// InitState is invoked once when a profile is attached to a channel.
func (c *Chain) InitState(profileUID string) {
	for _, s := range c.stages {
		s.InitState(profileUID)
	}
}

// ClearState is invoked once when a profile is detached from a channel.
func (c *Chain) ClearState(profileUID string) {
	for _, s := range c.stages {
		s.ClearState(profileUID)
	}
}

// Run feeds data through every stage in order; a stage whose IsApplicable
// is false passes data through unchanged.
func (c *Chain) Run(data SpeedProfileData) SpeedProfileData {
	for _, s := range c.stages {
		if !s.IsApplicable(data) {
			continue
		}
		data = s.Process(data)
	}
	return data
}

// beginLatch and endLatch let the single SafetyLatch instance occupy two
// distinct positions in the fixed stage order without the Chain needing to
// know about its double-duty.
type beginLatch struct{ latch *SafetyLatch }

func (b beginLatch) IsApplicable(SpeedProfileData) bool           { return true }
func (b beginLatch) InitState(profileUID string)                  { b.latch.InitState(profileUID) }
func (b beginLatch) ClearState(profileUID string)                 { b.latch.ClearState(profileUID) }
func (b beginLatch) Process(data SpeedProfileData) SpeedProfileData { return b.latch.Begin(data) }

type endLatch struct{ latch *SafetyLatch }

func (e endLatch) IsApplicable(SpeedProfileData) bool           { return true }
func (e endLatch) InitState(profileUID string)                  {}
func (e endLatch) ClearState(profileUID string)                 {}
func (e endLatch) Process(data SpeedProfileData) SpeedProfileData { return e.latch.End(data) }

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
