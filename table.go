package tsip

import "errors"

var (
	// ErrTableMismatch is returned by AddSection when the incoming section's
	// (tid, tidext, version) does not belong to this table.
	ErrTableMismatch = errors.New("tsip: section does not belong to this table")
	// ErrTableSectionConflict is returned by AddSection when a different
	// section already occupies the target slot and the table was not built
	// with BinaryTableOptReplaceOnConflict.
	ErrTableSectionConflict = errors.New("tsip: conflicting section at occupied slot")
	// ErrTableSectionOutOfRange is returned when section_number exceeds
	// last_section_number.
	ErrTableSectionOutOfRange = errors.New("tsip: section_number exceeds last_section_number")
)

// BinaryTableOption configures a BinaryTable at construction.
type BinaryTableOption func(*BinaryTable)

// BinaryTableOptReplaceOnConflict makes AddSection replace a conflicting
// section at an already-occupied slot instead of rejecting it.
func BinaryTableOptReplaceOnConflict() BinaryTableOption {
	return func(t *BinaryTable) { t.replaceOnConflict = true }
}

// BinaryTable is an ordered, de-duplicated collection of the sections that
// make up one PSI/SI table instance, keyed by (tid, tidext, version) for
// long tables, or a lone section for short tables (spec §4.3).
type BinaryTable struct {
	sections          []*Section
	tid               uint8
	tidExt            uint16
	version           uint8
	lastSectionNumber uint8
	isLong            bool
	started           bool
	replaceOnConflict bool
}

// NewBinaryTable returns an empty table ready to accept its first section.
func NewBinaryTable(opts ...BinaryTableOption) *BinaryTable {
	t := &BinaryTable{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TableID returns the table id shared by every section in this table.
func (t *BinaryTable) TableID() uint8 { return t.tid }

// TableIDExtension returns the TIDext shared by every section in this
// table (long tables only).
func (t *BinaryTable) TableIDExtension() uint16 { return t.tidExt }

// Version returns the version shared by every section in this table (long
// tables only).
func (t *BinaryTable) Version() uint8 { return t.version }

// LastSectionNumber returns the highest section_number expected.
func (t *BinaryTable) LastSectionNumber() uint8 { return t.lastSectionNumber }

// IsLongTable reports whether this table was opened by a long section.
func (t *BinaryTable) IsLongTable() bool { return t.isLong }

// AddSection inserts s into the table, per spec §4.3: the first section
// opens the table's (tid, tidext, version) key; subsequent sections must
// match it and must fit within last_section_number. Re-adding an identical
// section at an already-filled slot is a no-op.
func (t *BinaryTable) AddSection(s *Section) error {
	if !t.started {
		t.tid = s.TableID()
		t.isLong = s.IsLongSection()
		if t.isLong {
			t.tidExt = s.TableIDExtension()
			t.version = s.Version()
			t.lastSectionNumber = s.LastSectionNumber()
		} else {
			t.lastSectionNumber = 0
		}
		t.sections = make([]*Section, int(t.lastSectionNumber)+1)
		t.started = true
	} else {
		if s.TableID() != t.tid {
			return ErrTableMismatch
		}
		if t.isLong {
			if s.TableIDExtension() != t.tidExt || s.Version() != t.version {
				return ErrTableMismatch
			}
		}
	}

	idx := 0
	if t.isLong {
		idx = int(s.SectionNumber())
	}
	if idx >= len(t.sections) {
		return ErrTableSectionOutOfRange
	}

	if existing := t.sections[idx]; existing != nil {
		if existing.Equal(s) {
			return nil
		}
		if !t.replaceOnConflict {
			return ErrTableSectionConflict
		}
	}

	t.sections[idx] = s
	return nil
}

// IsValid reports whether the table has at least one section and every
// filled slot is internally consistent with the table's key.
func (t *BinaryTable) IsValid() bool {
	return t.started && t.SectionCount() > 0
}

// IsComplete reports whether every slot from 0 to LastSectionNumber is
// filled.
func (t *BinaryTable) IsComplete() bool {
	if !t.started {
		return false
	}
	for _, s := range t.sections {
		if s == nil {
			return false
		}
	}
	return true
}

// SectionCount returns the number of non-empty slots.
func (t *BinaryTable) SectionCount() int {
	n := 0
	for _, s := range t.sections {
		if s != nil {
			n++
		}
	}
	return n
}

// SectionAt returns the section at index i, or nil if that slot is empty.
func (t *BinaryTable) SectionAt(i int) *Section {
	if i < 0 || i >= len(t.sections) {
		return nil
	}
	return t.sections[i]
}

// TotalSize returns the sum, in bytes, of every filled section's wire size.
func (t *BinaryTable) TotalSize() int {
	n := 0
	for _, s := range t.sections {
		if s != nil {
			n += s.Size()
		}
	}
	return n
}

// PackSections collapses holes and renumbers the remaining sections
// consecutively, recomputing section_number/last_section_number (and CRC,
// for long sections) on each. It is idempotent: packing an already-packed
// table is a no-op, and every previously occupied slot's section survives
// (spec §8 property 4).
func (t *BinaryTable) PackSections() *BinaryTable {
	packed := &BinaryTable{
		tid:               t.tid,
		tidExt:            t.tidExt,
		version:           t.version,
		isLong:            t.isLong,
		started:           t.started,
		replaceOnConflict: t.replaceOnConflict,
	}

	var present []*Section
	for _, s := range t.sections {
		if s != nil {
			present = append(present, s)
		}
	}

	if !packed.isLong {
		packed.sections = present
		return packed
	}

	newLast := uint8(0)
	if len(present) > 0 {
		newLast = uint8(len(present) - 1)
	}
	packed.lastSectionNumber = newLast
	packed.sections = make([]*Section, len(present))

	for i, s := range present {
		renumbered := NewLongSection(
			s.TableID(),
			s.IsPrivate(),
			s.TableIDExtension(),
			s.Version(),
			s.IsCurrent(),
			uint8(i),
			newLast,
			append([]byte(nil), s.Payload()...),
		)
		packed.sections[i] = renumbered
	}

	return packed
}
