package session

import (
	"time"

	"github.com/1ureka/meshlobby/internal/util"
)

type phase int

const (
	phaseDelay phase = iota
	phaseAwaitInbound
	phaseAttempt
	phaseRetryWait
	phaseVerify
)

// connector drives one peer from "member without a link" to Connected. It is
// advanced by Update and re-checks membership at every step, so a peer that
// leaves mid-attempt simply stops being advanced.
type connector struct {
	phase     phase
	elapsed   time.Duration
	delay     time.Duration
	attempt   int
	reconnect bool

	// where to go back to if a link fails verification
	resume        phase
	resumeElapsed time.Duration
}

func (m *Manager) startConnector(p *peer, delay time.Duration, reconnect bool) {
	p.conn = &connector{phase: phaseDelay, delay: delay, reconnect: reconnect}
	p.state = ConnConnecting
}

func (c *connector) enter(ph phase) {
	c.phase = ph
	c.elapsed = 0
}

func (c *connector) verify() {
	c.resume = c.phase
	c.resumeElapsed = c.elapsed
	c.enter(phaseVerify)
}

// advance runs p's connector until it has to wait for more time to pass.
func (m *Manager) advance(p *peer, dt time.Duration) {
	c := p.conn
	c.elapsed += dt

	for p.conn == c {
		if !m.isMember(p.id) {
			p.conn = nil
			return
		}

		switch c.phase {
		case phaseDelay:
			if c.elapsed < c.delay {
				return
			}
			if IsInitiator(m.Self(), p.id) {
				c.enter(phaseAttempt)
			} else {
				c.enter(phaseAwaitInbound)
			}

		case phaseAwaitInbound:
			if p.linkUp {
				c.verify()
				continue
			}
			if c.elapsed < m.cfg.AcceptWindow {
				return
			}
			util.LogInfo("no inbound link from %s after %s, dialing instead", p.id, m.cfg.AcceptWindow)
			c.enter(phaseAttempt)

		case phaseAttempt:
			if p.linkUp {
				c.verify()
				continue
			}
			if c.attempt >= m.cfg.MaxAttempts {
				m.giveUp(p)
				return
			}
			c.attempt++
			m.dial(p, c.attempt)
			c.enter(phaseRetryWait)
			return

		case phaseRetryWait:
			if p.linkUp {
				c.verify()
				continue
			}
			if c.elapsed < m.cfg.RetryInterval {
				return
			}
			util.LogWarning("attempt %d/%d to reach %s timed out", c.attempt, m.cfg.MaxAttempts, p.id)
			c.enter(phaseAttempt)

		case phaseVerify:
			if !p.linkUp {
				c.phase = c.resume
				c.elapsed = c.resumeElapsed
				continue
			}
			if c.elapsed < m.cfg.VerifyDelay {
				return
			}
			m.confirm(p, c.reconnect)
			return
		}
	}
}

// dial closes any stale link before opening a new one, so at most one link
// object exists per peer.
func (m *Manager) dial(p *peer, attempt int) {
	m.closeLink(p)
	util.LogDebug("dialing %s (attempt %d/%d)", p.id, attempt, m.cfg.MaxAttempts)

	link, err := m.transport.Dial(p.id)
	if err != nil {
		util.LogWarning("dial %s: %v", p.id, err)
		return
	}
	p.link = link
}

func (m *Manager) confirm(p *peer, reconnect bool) {
	p.conn = nil
	p.state = ConnConnected
	p.reported = true
	if reconnect {
		util.LogSuccess("reconnected to %s", p.id)
	} else {
		util.LogSuccess("connected to %s", p.id)
	}
	m.emit(Event{Kind: PeerConnected, Peer: p.id, Reconnected: reconnect})
}

func (m *Manager) giveUp(p *peer) {
	p.conn = nil
	m.closeLink(p)
	p.state = ConnNone
	p.abandoned = true
	p.reported = false
	util.LogError("could not reach %s after %d attempts", p.id, m.cfg.MaxAttempts)
	m.emit(Event{Kind: PeerDisconnected, Peer: p.id, Reason: ReasonLost})
}
