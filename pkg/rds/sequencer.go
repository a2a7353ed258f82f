package rds

// LogoChunkBits is the largest logo slice carried in one group slot.
const LogoChunkBits = GroupBits

// Sequencer decides which group goes on air next. Non-logo slots follow a
// 0A, 0A, 2A cadence; when a logo is loaded every fifth slot carries the
// next slice of the logo bitstream instead.
//
// A Sequencer is owned by a single producer and is not safe for
// concurrent use.
type Sequencer struct {
	id   Identity
	logo []byte

	psIdx   int // next PS segment, mod 4
	rtIdx   int // next RT segment, mod 16
	cadence int // non-logo emissions, mod 3
	slot    int // all emissions, mod 5
	cursor  int // position in logo
}

// NewSequencer returns a sequencer for id. logo may be nil.
func NewSequencer(id Identity, logo []byte) *Sequencer {
	id.PS = NormalizePS(id.PS)
	id.RT = NormalizeRT(id.RT)
	return &Sequencer{id: id, logo: logo}
}

// Identity returns the normalized station identity.
func (s *Sequencer) Identity() Identity { return s.id }

// SetLogo replaces the logo bitstream and restarts it from the beginning.
func (s *Sequencer) SetLogo(bits []byte) {
	s.logo = bits
	s.cursor = 0
}

// HasLogo reports whether logo slices are being interleaved.
func (s *Sequencer) HasLogo() bool { return len(s.logo) > 0 }

// Reset returns the sequencer to its initial cadence position.
func (s *Sequencer) Reset() {
	s.psIdx, s.rtIdx, s.cadence, s.slot, s.cursor = 0, 0, 0, 0, 0
}

// NextGroup returns the bits of the next emission: a 104-bit group or a
// logo slice of at most 104 bits.
func (s *Sequencer) NextGroup() []byte {
	slot := s.slot
	s.slot = (s.slot + 1) % 5
	if s.HasLogo() && slot == 0 {
		return s.nextLogoChunk()
	}

	pos := s.cadence
	s.cadence = (s.cadence + 1) % 3
	if pos != 2 {
		g := Group0A(s.id, s.psIdx)
		s.psIdx = (s.psIdx + 1) % 4
		return g
	}
	g := Group2A(s.id, s.rtIdx)
	s.rtIdx = (s.rtIdx + 1) % 16
	return g
}

func (s *Sequencer) nextLogoChunk() []byte {
	if s.cursor >= len(s.logo) {
		s.cursor = 0
	}
	end := s.cursor + LogoChunkBits
	if end > len(s.logo) {
		end = len(s.logo)
	}
	chunk := make([]byte, end-s.cursor)
	copy(chunk, s.logo[s.cursor:end])
	s.cursor = end
	return chunk
}

// Generate returns exactly total bits, concatenating whole emissions and
// truncating only the last one.
func (s *Sequencer) Generate(total int) []byte {
	if total <= 0 {
		return nil
	}
	out := make([]byte, 0, total+GroupBits)
	for len(out) < total {
		out = append(out, s.NextGroup()...)
	}
	return out[:total]
}

// Fill appends emissions to dst until it holds at least n bits and
// returns the extended slice. Whole groups are kept.
func (s *Sequencer) Fill(dst []byte, n int) []byte {
	for len(dst) < n {
		dst = append(dst, s.NextGroup()...)
	}
	return dst
}
