package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firemen2709/sds200-scanner-dashboard/internal/config"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/link"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/monitor"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/parser"
	"github.com/firemen2709/sds200-scanner-dashboard/internal/storage"
	"github.com/firemen2709/sds200-scanner-dashboard/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// ErrUnexpectedReply means a reply did not echo the command it answers. The
// session is out of step with the device and is dropped.
var ErrUnexpectedReply = errors.New("unexpected reply")

// Link is the part of link.Link the loop drives.
type Link interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendCommand(command string) (string, error)
	Connected() bool
}

// Poller runs poll cycles against one scanner. Run must only be called once;
// the poller is the sole user of its Link.
type Poller struct {
	link       Link
	parser     *parser.Parser
	publishers []storage.Publisher
	interval   time.Duration
	cooldown   time.Duration
	log        *logrus.Logger
	now        func() time.Time

	last time.Time
}

func NewPoller(cfg config.PollerConfig, l Link, log *logrus.Logger, publishers ...storage.Publisher) *Poller {
	return &Poller{
		link:       l,
		parser:     parser.NewParser(),
		publishers: publishers,
		interval:   cfg.Interval,
		cooldown:   cfg.Cooldown,
		log:        log,
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled. Cancellation is observed between cycles
// and while sleeping, never inside a cycle.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Infof("starting continuous poll with %s interval", p.interval)
	defer p.link.Disconnect()

	for {
		if ctx.Err() != nil {
			p.log.Info("poll loop stopped")
			return nil
		}

		wait := p.interval
		if err := p.safeCycle(ctx); err != nil {
			monitor.CycleFailures.Inc()
			p.log.Errorf("error in poll cycle: %v", err)
			p.link.Disconnect()
			monitor.SetConnected(false)
			wait = p.cooldown
		}

		if !sleep(ctx, wait) {
			p.log.Info("poll loop stopped")
			return nil
		}
	}
}

func (p *Poller) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	p.Cycle(ctx)
	return nil
}

// Cycle runs one connect-if-needed, query, publish pass and returns the
// snapshot it published.
func (p *Poller) Cycle(ctx context.Context) *protocol.Snapshot {
	// A started cycle runs to completion.
	ctx = context.WithoutCancel(ctx)
	// Wall clock only: a monotonic reading would hide a backwards step.
	started := p.now().Round(0)
	snap := protocol.NewSnapshot()
	var errs []string

	if !p.link.Connected() {
		monitor.ConnectAttempts.Inc()
		if err := p.link.Connect(ctx); err != nil {
			monitor.ConnectFailures.Inc()
			errs = append(errs, err.Error())
		}
	}

	if p.link.Connected() {
		for _, cmd := range protocol.PollSequence {
			if err := p.query(cmd, snap); err != nil {
				errs = append(errs, err.Error())
				if errors.Is(err, link.ErrIO) {
					break
				}
				if errors.Is(err, ErrUnexpectedReply) {
					p.link.Disconnect()
					break
				}
			}
		}
	}

	snap.Connected = p.link.Connected()
	monitor.SetConnected(snap.Connected)
	if len(errs) > 0 {
		snap.Error = protocol.String(strings.Join(errs, "; "))
	}

	// Publication never goes backwards even if the wall clock does.
	if started.Before(p.last) {
		started = p.last
	}
	snap.Timestamp = started
	p.last = started

	p.publish(ctx, snap)
	monitor.PollCycles.Inc()
	return snap
}

// query issues one command and folds its reply into snap.
func (p *Poller) query(cmd protocol.Mnemonic, snap *protocol.Snapshot) error {
	begin := time.Now()
	raw, err := p.link.SendCommand(string(cmd))
	monitor.CommandDuration.WithLabelValues(string(cmd)).Observe(time.Since(begin).Seconds())
	if err != nil {
		monitor.CommandErrors.WithLabelValues(string(cmd), link.KindName(err)).Inc()
		return err
	}

	snap.RawResponses[string(cmd)] = raw
	line, ok := p.parser.Line(raw, cmd)
	if !ok {
		monitor.CommandErrors.WithLabelValues(string(cmd), "unexpected_reply").Inc()
		p.log.Warnf("reply to %s does not echo it: %q", cmd, raw)
		return fmt.Errorf("%w to %s: %q", ErrUnexpectedReply, cmd, raw)
	}
	if line != raw {
		p.log.Warnf("discarding late reply data before %s: %q", cmd, raw)
	}

	parsed := p.parser.Parse(line, cmd)
	if parsed.Degraded {
		monitor.DegradedParses.WithLabelValues(string(cmd)).Inc()
		p.log.Debugf("short reply for %s: %q", cmd, line)
	}

	switch cmd {
	case protocol.MnemonicModel:
		snap.Model = parsed.Value
	case protocol.MnemonicVersion:
		snap.Firmware = parsed.Value
	case protocol.MnemonicStatus:
		if parsed.Status != nil {
			snap.ApplyStatus(*parsed.Status)
		}
		snap.Status = protocol.String(line)
	}
	return nil
}

func (p *Poller) publish(ctx context.Context, snap *protocol.Snapshot) {
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, snap); err != nil {
			monitor.PublishErrors.WithLabelValues(pub.Name()).Inc()
			p.log.Errorf("error publishing snapshot to %s: %v", pub.Name(), err)
		}
	}
	monitor.LastPublish.Set(float64(snap.Timestamp.Unix()))
}

// sleep waits d or until ctx is done. It reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
