// Package clocksync keeps a follower's game clock running ahead of an
// authority by just enough that inputs dispatched at follower game time
// arrive before the authority reaches that same time.
//
// The authority's game time is its local time. A follower maintains an auto
// offset added to its local time; the authority measures, for every sync
// report a follower sends, how far ahead of its own game time the reported
// follower game time arrived, and reports that offset back. The arrival of
// the follower's inputs themselves is not measured. The follower filters a sliding window of these reports
// down to a low percentile and steers its offset so the near-worst inputs
// arrive with a configured safety margin.
package clocksync

import (
	"log/slog"
	"math"

	"github.com/google/uuid"
)

// Role determines whether a controller is the time ground truth or follows
// one.
type Role uint8

const (
	// RoleAuthority means game time equals local time and followers are
	// steered towards it.
	RoleAuthority Role = iota
	// RoleFollower means game time is local time plus a drifting auto offset.
	RoleFollower
)

// Outbound is a frame the controller wants dispatched after an Update tick.
type Outbound struct {
	// To is the destination follower. It is uuid.Nil when the frame is
	// addressed to the authority.
	To uuid.UUID
	// Frame is the encoded message, ready for an unreliable channel.
	Frame []byte
}

// followerClock is the authority's bookkeeping for one follower.
type followerClock struct {
	// offset is the last measured input-arrival offset: the follower's
	// reported game time minus the authority's game time at receipt. Positive
	// means the follower's messages arrive in the authority's future.
	offset   float32
	lastSeen float64
}

// Controller computes and applies the time offset of one participant. All
// methods take the participant's current local clock reading; the controller
// never reads the wall clock itself, which keeps it deterministic under
// simulated time.
type Controller struct {
	conf Config
	log  *slog.Logger
	role Role

	// Follower state.
	timeOnServer           float64
	timeOfLastServerUpdate float64
	history                offsetHistory
	autoOffset             float64
	remaining              float64
	adjustVel              float64
	lastRecalc             float64

	lastLocal float64
	hasLocal  bool

	// Authority state.
	followers map[uuid.UUID]*followerClock
}

// NewController creates a controller for the given role.
func NewController(role Role, conf Config) *Controller {
	conf = conf.withDefaults()
	return &Controller{
		conf:      conf,
		log:       conf.Logger,
		role:      role,
		history:   offsetHistory{period: conf.SamplePeriod},
		followers: make(map[uuid.UUID]*followerClock),
	}
}

// Role returns the controller's role.
func (c *Controller) Role() Role { return c.role }

// GameTime converts a local clock reading to game time.
func (c *Controller) GameTime(local float64) float64 {
	if c.role == RoleAuthority {
		return local
	}
	return local + c.autoOffset
}

// AutoOffset returns the current offset between local and game time.
func (c *Controller) AutoOffset() float64 { return c.autoOffset }

// RemainingAdjustment returns the correction not yet applied to the offset.
func (c *Controller) RemainingAdjustment() float64 { return c.remaining }

// TimeOnServer returns the authority game time last reported to this
// follower and the local time it arrived at.
func (c *Controller) TimeOnServer() (reported, receivedAt float64) {
	return c.timeOnServer, c.timeOfLastServerUpdate
}

// EstimatedServerTime extrapolates the authority's game time from the last
// report.
func (c *Controller) EstimatedServerTime(local float64) float64 {
	return c.timeOnServer + (local - c.timeOfLastServerUpdate)
}

// SampleCount returns the number of retained offset samples.
func (c *Controller) SampleCount() int { return c.history.len() }

// Handle decodes and dispatches a received frame. On the authority, from
// identifies the follower the frame arrived from.
func (c *Controller) Handle(frame []byte, from uuid.UUID, local float64) error {
	msg, err := Decode(frame)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case ServerUpdate:
		c.HandleServerUpdate(m, local)
	case FollowerUpdate:
		c.HandleFollowerUpdate(from, m, local)
	}
	return nil
}

// HandleServerUpdate records an authority report on a follower: the
// authority's game time and the arrival offset it measured for us.
func (c *Controller) HandleServerUpdate(u ServerUpdate, local float64) {
	if c.role != RoleFollower {
		return
	}
	c.timeOnServer = u.GameTime
	c.timeOfLastServerUpdate = local
	c.history.push(local, u.ClientOffset)
}

// HandleFollowerUpdate records a follower's reported game time on the
// authority and measures its arrival offset against the authority clock.
func (c *Controller) HandleFollowerUpdate(from uuid.UUID, u FollowerUpdate, local float64) {
	if c.role != RoleAuthority {
		return
	}
	fc, ok := c.followers[from]
	if !ok {
		fc = &followerClock{}
		c.followers[from] = fc
	}
	fc.offset = float32(u.GameTime - c.GameTime(local))
	fc.lastSeen = local
}

// Update advances the controller one frame. It applies any pending offset
// correction, recalculates the correction when due, and, when the game time
// crosses a sync boundary, returns the frames to dispatch.
func (c *Controller) Update(local float64) []Outbound {
	dt := 0.0
	if c.hasLocal {
		dt = local - c.lastLocal
	}
	c.lastLocal = local
	c.hasLocal = true
	if dt < 0 {
		dt = 0
	}

	if c.role == RoleFollower {
		c.recalculate(local)
		c.applyAdjustment(dt)
	}

	if dt <= 0 {
		return nil
	}
	game := c.GameTime(local)
	sps := c.conf.SyncsPerSecond
	if math.Floor(game*sps) == math.Floor((game-dt)*sps) {
		return nil
	}
	return c.emit(game, local)
}

// recalculate re-derives the pending correction from the recent offsets. An
// empty window leaves the pending correction untouched, so a connection gap
// only ever drifts by the correction already in flight.
func (c *Controller) recalculate(local float64) {
	if local-c.lastRecalc < c.conf.SecondsPerRecalculation+c.conf.RecalculationCooldown {
		return
	}
	c.lastRecalc = local
	p, ok := c.history.percentile(local-c.conf.SecondsPerRecalculation, 0.02)
	if !ok {
		return
	}
	c.remaining = float64(p) - float64(c.conf.AdditionalPrediction)
	c.adjustVel = 0
	c.log.Debug("clock correction scheduled", "percentile", p, "remaining", c.remaining)
}

// applyAdjustment consumes the pending correction into the auto offset. A
// positive remainder means inputs arrive with more margin than needed, so the
// offset shrinks by it; a negative remainder grows the offset.
func (c *Controller) applyAdjustment(dt float64) {
	if c.remaining == 0 || dt <= 0 {
		return
	}
	switch c.conf.Mode {
	case AdjustCurved:
		if math.Abs(c.remaining) >= 1 {
			c.snapRemaining()
			return
		}
		// Critically-damped spring toward zero remainder; the offset absorbs
		// whatever the remainder gives up each frame.
		omega := 2 / c.conf.CurvedDamping
		x := omega * dt
		decay := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)
		temp := (c.adjustVel + omega*c.remaining) * dt
		c.adjustVel = (c.adjustVel - omega*temp) * decay
		settled := (c.remaining + temp) * decay
		c.autoOffset -= c.remaining - settled
		c.remaining = settled
		if math.Abs(c.remaining) < 1e-4 {
			c.snapRemaining()
		}
	default:
		if c.conf.LinearSpeed <= 0 || math.Abs(c.remaining)/c.conf.LinearSpeed > c.conf.MaxAdjustmentDuration {
			c.snapRemaining()
			return
		}
		step := c.conf.LinearSpeed * dt
		if step > math.Abs(c.remaining) {
			step = math.Abs(c.remaining)
		}
		step = math.Copysign(step, c.remaining)
		c.autoOffset -= step
		c.remaining -= step
	}
}

func (c *Controller) snapRemaining() {
	c.autoOffset -= c.remaining
	c.remaining = 0
	c.adjustVel = 0
}

// emit produces the sync frames for one tick: the authority addresses every
// recently-seen follower, a follower addresses the authority.
func (c *Controller) emit(game, local float64) []Outbound {
	if c.role == RoleFollower {
		return []Outbound{{To: uuid.Nil, Frame: FollowerUpdate{GameTime: game}.Encode(nil)}}
	}
	var out []Outbound
	for id, fc := range c.followers {
		if local-fc.lastSeen > c.conf.FollowerTimeout {
			continue
		}
		out = append(out, Outbound{
			To:    id,
			Frame: ServerUpdate{GameTime: game, ClientOffset: fc.offset}.Encode(nil),
		})
	}
	return out
}
