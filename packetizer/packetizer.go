// Package packetizer implements CyclingPacketizer, the outgoing half of
// spec.md §4.8: turning an ordered collection of BinaryTables back into a
// steady TS packet stream on one PID.
package packetizer

import (
	"context"

	"golang.org/x/time/rate"

	tsip "github.com/tsflux/tsip"
)

// payloadSize is the usable payload capacity of a 188-byte packet with no
// adaptation field: 188 - 4 header bytes.
const payloadSize = tsip.PacketSize - 4

// StuffingPolicy controls whether unused payload bytes of the last packet
// of a section are filled with 0xFF, per spec §4.8.
type StuffingPolicy int

const (
	// StuffingAtEnd pads only the last packet of the last section of a
	// full cycle; every other section packs tightly against the next.
	StuffingAtEnd StuffingPolicy = iota
	// StuffingAlways pads the last packet of every section, so every
	// section starts at a fresh packet boundary (pointer_field always 0).
	StuffingAlways
	// StuffingNever never pads: sections pack back-to-back continuously,
	// including across the cycle's wrap-around seam.
	StuffingNever
)

// Option configures a CyclingPacketizer at construction.
type Option func(*CyclingPacketizer)

// WithStuffingPolicy sets the stuffing policy. Default is StuffingAtEnd.
func WithStuffingPolicy(p StuffingPolicy) Option {
	return func(c *CyclingPacketizer) { c.policy = p }
}

// WithPacing attaches a token-bucket limiter so Next blocks to pace packet
// emission at a target rate, instead of returning as fast as it is called.
func WithPacing(limiter *rate.Limiter) Option {
	return func(c *CyclingPacketizer) { c.limiter = limiter }
}

// CyclingPacketizer turns a cycling list of BinaryTables into a packet
// stream on a single PID (spec §4.8). Not safe for concurrent use; owned
// by exactly one packet-producing task, per spec §5.
type CyclingPacketizer struct {
	pid    uint16
	policy StuffingPolicy
	limiter *rate.Limiter

	cc uint8

	tables     []*tsip.BinaryTable
	nextTables []*tsip.BinaryTable
	tablesDirty bool

	sections  []*tsip.Section
	sectionIdx int
	secOffset  int
}

// NewCyclingPacketizer returns a packetizer emitting tables on pid.
func NewCyclingPacketizer(pid uint16, tables []*tsip.BinaryTable, opts ...Option) *CyclingPacketizer {
	c := &CyclingPacketizer{
		pid:        pid,
		tables:     append([]*tsip.BinaryTable(nil), tables...),
		nextTables: append([]*tsip.BinaryTable(nil), tables...),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rebuildSections()
	return c
}

// AddTable appends t to the table list. Takes effect on the next cycle.
func (c *CyclingPacketizer) AddTable(t *tsip.BinaryTable) {
	c.nextTables = append(c.nextTables, t)
	c.tablesDirty = true
}

// RemoveTable drops the first table matching (tid, tidext) from the table
// list. Takes effect on the next cycle. Reports whether a match was found.
func (c *CyclingPacketizer) RemoveTable(tid uint8, tidext uint16) bool {
	for i, t := range c.nextTables {
		if t.TableID() != tid {
			continue
		}
		if t.IsLongTable() && t.TableIDExtension() != tidext {
			continue
		}
		c.nextTables = append(append([]*tsip.BinaryTable(nil), c.nextTables[:i]...), c.nextTables[i+1:]...)
		c.tablesDirty = true
		return true
	}
	return false
}

// SetTables replaces the whole table list. Takes effect on the next cycle.
func (c *CyclingPacketizer) SetTables(tables []*tsip.BinaryTable) {
	c.nextTables = append([]*tsip.BinaryTable(nil), tables...)
	c.tablesDirty = true
}

// rebuildSections flattens nextTables into a flat section stream. If the
// result would be empty, the current (possibly stale) section stream is
// kept rather than going idle.
func (c *CyclingPacketizer) rebuildSections() {
	var sections []*tsip.Section
	for _, t := range c.nextTables {
		slots := 1
		if t.IsLongTable() {
			slots = int(t.LastSectionNumber()) + 1
		}
		for i := 0; i < slots; i++ {
			if s := t.SectionAt(i); s != nil {
				sections = append(sections, s)
			}
		}
	}
	if len(sections) == 0 {
		return
	}
	c.tables = append([]*tsip.BinaryTable(nil), c.nextTables...)
	c.sections = sections
	c.sectionIdx = 0
	c.secOffset = 0
	c.tablesDirty = false
}

func (c *CyclingPacketizer) currentSectionTail() []byte {
	if len(c.sections) == 0 {
		return nil
	}
	return c.sections[c.sectionIdx].Bytes()[c.secOffset:]
}

// advanceSection moves past the just-finished section, applying a staged
// table-list change if this advance wraps back to the first section.
func (c *CyclingPacketizer) advanceSection() (wrapped bool) {
	c.secOffset = 0
	c.sectionIdx++
	if c.sectionIdx >= len(c.sections) {
		c.sectionIdx = 0
		wrapped = true
		if c.tablesDirty {
			c.rebuildSections()
		}
	}
	return wrapped
}

func (c *CyclingPacketizer) padsAfter(wrapped bool) bool {
	switch c.policy {
	case StuffingAlways:
		return true
	case StuffingAtEnd:
		return wrapped
	default: // StuffingNever
		return false
	}
}

// Next produces the next packet of the cycling stream: correct PUSI,
// pointer_field, continuity counter, PID, and payload (spec §4.8).
func (c *CyclingPacketizer) Next(ctx context.Context) (*tsip.Packet, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if len(c.sections) == 0 {
		c.rebuildSections()
	}

	if len(c.sections) == 0 {
		payload := make([]byte, payloadSize)
		for i := range payload {
			payload[i] = 0xff
		}
		return c.emit(payload, false), nil
	}

	// A section boundary sits at payload offset 0 of this very packet: PUSI
	// must announce it (pointer_field 0), even if that section also ends
	// within this same packet.
	if c.secOffset == 0 {
		return c.packForward(nil), nil
	}

	tail := c.currentSectionTail()
	if len(tail) >= payloadSize {
		// Pure continuation: no boundary falls within this packet at all.
		payload := make([]byte, payloadSize)
		copy(payload, tail[:payloadSize])
		c.secOffset += payloadSize
		return c.emit(payload, false), nil
	}

	// The current section ends partway through this packet.
	pre := append([]byte(nil), tail...)
	wrapped := c.advanceSection()
	if c.padsAfter(wrapped) {
		payload := make([]byte, payloadSize)
		copy(payload, pre)
		for i := len(pre); i < payloadSize; i++ {
			payload[i] = 0xff
		}
		return c.emit(payload, false), nil
	}
	return c.packForward(pre), nil
}

// packForward builds a PUSI packet: payload[0] is the pointer_field, set to
// len(pre); payload[1:1+len(pre)] holds pre, the tail bytes of a section
// that just finished in this same packet (empty when a fresh section
// starts exactly at this payload's first byte). The remainder is filled by
// greedily consuming from the packetizer's current position, crossing
// further section boundaries silently and honoring the stuffing policy at
// each one, per spec §4.8.
func (c *CyclingPacketizer) packForward(pre []byte) *tsip.Packet {
	payload := make([]byte, payloadSize)
	r := len(pre)
	payload[0] = byte(r)
	copy(payload[1:1+r], pre)
	widx := 1 + r

	for widx < payloadSize {
		t := c.currentSectionTail()
		if len(t) == 0 {
			for i := widx; i < payloadSize; i++ {
				payload[i] = 0xff
			}
			break
		}
		n := payloadSize - widx
		if n >= len(t) {
			copy(payload[widx:widx+len(t)], t)
			widx += len(t)
			w := c.advanceSection()
			if c.padsAfter(w) {
				for i := widx; i < payloadSize; i++ {
					payload[i] = 0xff
				}
				widx = payloadSize
			}
			continue
		}
		copy(payload[widx:payloadSize], t[:n])
		c.secOffset += n
		widx = payloadSize
	}

	return c.emit(payload, true)
}

func (c *CyclingPacketizer) emit(payload []byte, pusi bool) *tsip.Packet {
	data := make([]byte, tsip.PacketSize)
	data[0] = tsip.SyncByte
	if pusi {
		data[1] = 0x40
	}
	data[1] |= byte(c.pid>>8) & 0x1f
	data[2] = byte(c.pid)
	data[3] = 0x10 | (c.cc & 0xf) // payload only, no adaptation field
	copy(data[4:], payload)

	c.cc = (c.cc + 1) % 16

	p, _ := tsip.NewPacketFromBytes(data) // always 188 bytes starting with SyncByte
	return p
}
