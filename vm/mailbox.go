package vm

import "github.com/chazu/ember/pkg/term"

// ---------------------------------------------------------------------------
// Mailbox: user messages with selective receive
// ---------------------------------------------------------------------------

// Mailbox holds user messages in arrival order plus a save pointer marking
// where the next selective-receive scan resumes. It is owned by the worker
// running the process and is not safe for concurrent use.
type Mailbox struct {
	msgs []term.Term
	save int
}

// Send appends a message. Delivering into an empty mailbox resets the save
// pointer to the head.
func (m *Mailbox) Send(msg term.Term) {
	if len(m.msgs) == 0 {
		m.save = 0
	}
	m.msgs = append(m.msgs, msg)
}

// Peek returns the message at the save pointer.
func (m *Mailbox) Peek() (term.Term, bool) {
	if m.save >= len(m.msgs) {
		return nil, false
	}
	return m.msgs[m.save], true
}

// Advance moves the save pointer past the current (non-matching) message.
func (m *Mailbox) Advance() {
	if m.save < len(m.msgs) {
		m.save++
	}
}

// Remove deletes the message at the save pointer and resets the pointer to
// the head.
func (m *Mailbox) Remove() (term.Term, bool) {
	if m.save >= len(m.msgs) {
		return nil, false
	}
	msg := m.msgs[m.save]
	copy(m.msgs[m.save:], m.msgs[m.save+1:])
	m.msgs[len(m.msgs)-1] = nil
	m.msgs = m.msgs[:len(m.msgs)-1]
	m.save = 0
	return msg, true
}

// Reset moves the save pointer back to the head.
func (m *Mailbox) Reset() { m.save = 0 }

// Len returns the number of queued messages.
func (m *Mailbox) Len() int { return len(m.msgs) }

// SavePointer returns the index of the next message a receive will examine.
func (m *Mailbox) SavePointer() int { return m.save }

// Messages returns a copy of the queued messages.
func (m *Mailbox) Messages() []term.Term {
	return append([]term.Term(nil), m.msgs...)
}
