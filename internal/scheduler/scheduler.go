// Package scheduler implements the Tick Scheduler: the single
// cooperative loop that drives every repository through one fan-out preload,
// a deterministic sequential snapshot, and the Processor Chain's evaluate
// and apply step, once per poll interval.
//
// Each tick fans repositories out with per-adapter deadlines, joins them
// at a barrier, and only then touches Device records, so every channel
// evaluated in a tick observes the same snapshots.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/dmitriimaksimovdevelop/coolerd/internal/model"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/processor"
	"github.com/dmitriimaksimovdevelop/coolerd/internal/repository"
)

// defaultPreloadDeadline bounds a single repository's PreloadStatuses call
// when it does not implement repository.PreloadDeadline.
const defaultPreloadDeadline = 2 * time.Second

// Logger is the minimal sink the scheduler needs; output.ComponentLogger
// satisfies it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}

// binding is one channel's active profile assignment. The Custom Sensors
// repository owns no channels and never appears as a binding's repository.
type binding struct {
	repoName string
	channel  model.ChannelRef
	profile  model.Profile
}

// Scheduler owns the registry, the repository set, the Processor Chain, and
// the current profile bindings, and drives them through ticks.
type Scheduler struct {
	registry *model.Registry
	repos    []repository.Repository
	byName   map[string]repository.Repository
	chain    *processor.Chain
	log      Logger

	pollRate time.Duration

	mu        sync.Mutex
	bindings  *orderedmap.OrderedMap[string, binding]
	firstTick bool
}

// New constructs a Scheduler. repos must already be free of duplicate
// Name()s; pollRate is the global tick period, shared across all bindings
// in this minimal single-rate engine.
func New(registry *model.Registry, repos []repository.Repository, chain *processor.Chain, pollRate time.Duration, log Logger) *Scheduler {
	if log == nil {
		log = NopLogger
	}
	byName := make(map[string]repository.Repository, len(repos))
	for _, r := range repos {
		byName[r.Name()] = r
	}
	return &Scheduler{
		registry:  registry,
		repos:     repos,
		byName:    byName,
		chain:     chain,
		log:       log,
		pollRate:  pollRate,
		bindings:  orderedmap.New[string, binding](),
		firstTick: true,
	}
}

// InitializeAll runs InitializeDevices on every repository and registers
// their Devices into the shared Registry. A repository whose initialization
// fails is logged and contributes no devices; the others still initialize.
func (s *Scheduler) InitializeAll(ctx context.Context) error {
	for _, r := range s.repos {
		if err := r.InitializeDevices(ctx); err != nil {
			s.log.Errorf("%s: initialize failed, no devices from it: %v", r.Name(), err)
			continue
		}
		for _, d := range r.Devices() {
			s.registry.Register(d)
		}
	}
	return nil
}

// bindingKey identifies a channel binding uniquely across repositories.
func bindingKey(repoName string, ch model.ChannelRef) string {
	return repoName + "/" + ch.DeviceUID + "/" + ch.Name
}

// Bind attaches profile to channel, owned by the named repository. It
// initializes the Processor Chain's per-profile state; rebinding the same
// channel first clears the old profile's state. It also grows the temp
// source's status-history ring to the shaping window this profile's
// function needs, if larger than what the ring already holds.
func (s *Scheduler) Bind(repoName string, ch model.ChannelRef, p model.Profile) *model.CoreError {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, ok := s.byName[repoName]; !ok {
		return model.UserError("scheduler.bind", "unknown repository: "+repoName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey(repoName, ch)
	if old, ok := s.bindings.Get(key); ok {
		s.chain.ClearState(old.profile.UID)
	}
	s.chain.InitState(p.UID)
	s.bindings.Set(key, binding{repoName: repoName, channel: ch, profile: p})

	pollRate := p.PollRate
	if pollRate <= 0 {
		pollRate = s.pollRate.Seconds()
	}
	if tempDev, ok := s.registry.Lookup(p.TempSource.DeviceUID); ok {
		tempDev.GrowHistoryCapacity(processor.RequiredHistoryCapacity(p.Function, pollRate))
	}
	return nil
}

// Unbind detaches whatever profile is bound to channel, if any, and clears
// its Processor Chain state.
func (s *Scheduler) Unbind(repoName string, ch model.ChannelRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bindingKey(repoName, ch)
	if b, ok := s.bindings.Get(key); ok {
		s.chain.ClearState(b.profile.UID)
		s.bindings.Delete(key)
	}
}

// Run drives ticks every pollRate until ctx is cancelled or SIGINT/SIGTERM
// is received, then shuts down every repository before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.log.Infof("received %v, shutting down after the current tick", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	pollRate := s.pollRate
	if pollRate <= 0 {
		pollRate = time.Second
	}
	ticker := time.NewTicker(pollRate)
	defer ticker.Stop()

	first := true
	for {
		if first {
			first = false
			s.tick(ctx)
		} else {
			select {
			case <-ctx.Done():
				s.shutdownAll(context.Background())
				return ctx.Err()
			case <-ticker.C:
				s.tick(ctx)
			}
		}
		if ctx.Err() != nil {
			s.shutdownAll(context.Background())
			return ctx.Err()
		}
	}
}

// tick runs one full cycle: fan-out preload with a barrier, sequential
// snapshot (Custom Sensors last), then evaluate & apply over every
// binding.
func (s *Scheduler) tick(ctx context.Context) {
	s.preloadAll(ctx)
	s.snapshotAll(ctx)
	s.evaluateAndApply(ctx)
}

// preloadAll fans out PreloadStatuses across every repository in parallel,
// each bounded by its own deadline, and blocks until all have returned. A
// single repository's preload failure is logged and does not block the
// others or abort the tick: the Device whose reading is missing surfaces
// it downstream as a missing temp source instead.
func (s *Scheduler) preloadAll(ctx context.Context) {
	s.mu.Lock()
	first := s.firstTick
	s.firstTick = false
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range s.repos {
		wg.Add(1)
		go func(r repository.Repository) {
			defer wg.Done()
			deadline := defaultPreloadDeadline
			if pd, ok := r.(repository.PreloadDeadline); ok {
				firstMS, subsequentMS := pd.PreloadDeadlineDefault()
				ms := subsequentMS
				if first {
					ms = firstMS
				}
				if ms > 0 {
					deadline = time.Duration(ms) * time.Millisecond
				}
			}
			pctx, cancel := context.WithTimeout(ctx, deadline)
			defer cancel()
			if err := r.PreloadStatuses(pctx); err != nil {
				s.log.Errorf("%s: preload failed: %v", r.Name(), err)
			}
		}(r)
	}
	wg.Wait()
}

// snapshotAll consumes each repository's scratch sequentially, not in
// parallel, since UpdateStatuses is the only writer of Device records and
// must not race with the Processor Chain reading them. Custom Sensors is
// deliberately last: it composes from already-updated readings of the
// other repositories.
func (s *Scheduler) snapshotAll(ctx context.Context) {
	var customSensors repository.Repository
	for _, r := range s.repos {
		if r.Name() == "customsensors" {
			customSensors = r
			continue
		}
		r.UpdateStatuses(ctx)
	}
	if customSensors != nil {
		customSensors.UpdateStatuses(ctx)
	}
}

// evaluateAndApply runs the Processor Chain for every binding, in
// deterministic (insertion) order, and applies any resulting duty through
// the owning repository.
func (s *Scheduler) evaluateAndApply(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]binding, 0, s.bindings.Len())
	for pair := s.bindings.Oldest(); pair != nil; pair = pair.Next() {
		snapshot = append(snapshot, pair.Value)
	}
	s.mu.Unlock()

	for _, b := range snapshot {
		data := processor.SpeedProfileData{Profile: b.profile, Channel: b.channel}
		data = s.chain.Run(data)
		if data.Duty == nil {
			continue
		}
		repo, ok := s.byName[b.repoName]
		if !ok {
			continue
		}
		duty := s.clampToChannel(b.channel, *data.Duty)
		if err := repo.ApplySettingSpeedFixed(ctx, b.channel.DeviceUID, b.channel.Name, duty); err != nil {
			s.log.Errorf("%s: apply %s/%s=%d failed: %v", b.repoName, b.channel.DeviceUID, b.channel.Name, duty, err)
		}
	}
}

// clampToChannel clamps an emitted duty to the channel's declared
// SpeedOptions, not just the universal [0,100] range the Graph Evaluator
// already guarantees.
func (s *Scheduler) clampToChannel(ch model.ChannelRef, duty int) int {
	dev, ok := s.registry.Lookup(ch.DeviceUID)
	if !ok {
		return duty
	}
	info, ok := dev.Info.Channels[ch.Name]
	if !ok {
		return duty
	}
	return info.Speed.Clamp(duty)
}

func (s *Scheduler) shutdownAll(ctx context.Context) {
	for _, r := range s.repos {
		if err := r.Shutdown(ctx); err != nil {
			s.log.Errorf("%s: shutdown failed: %v", r.Name(), err)
		}
	}
}

// Registry exposes the shared Registry, e.g. for list-devices output.
func (s *Scheduler) Registry() *model.Registry { return s.registry }
