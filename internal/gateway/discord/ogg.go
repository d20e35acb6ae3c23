package discord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// oggReader extracts Opus packets from an Ogg container as ffmpeg emits
// it. Only the subset of the format ffmpeg produces for a single Opus
// stream is handled: one logical stream, packets reassembled from the
// page segment table, OpusHead/OpusTags headers skipped.
type oggReader struct {
	r *bufio.Reader

	// segments left in the current page, and the partial packet carried
	// across a page boundary.
	segments []byte
	seg      int
	partial  []byte

	headersSkipped int
}

var oggCapture = [4]byte{'O', 'g', 'g', 'S'}

func newOggReader(r io.Reader) *oggReader {
	return &oggReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// NextPacket returns the next Opus audio packet, skipping the two
// header packets. Returns io.EOF at end of stream.
func (o *oggReader) NextPacket() ([]byte, error) {
	for {
		pkt, err := o.nextRawPacket()
		if err != nil {
			return nil, err
		}
		if o.headersSkipped < 2 {
			o.headersSkipped++
			continue
		}
		return pkt, nil
	}
}

// nextRawPacket reassembles one packet from lacing values, reading new
// pages as needed. A lacing value of 255 means the packet continues in
// the next segment (possibly on the next page).
func (o *oggReader) nextRawPacket() ([]byte, error) {
	for {
		if o.seg >= len(o.segments) {
			if err := o.readPage(); err != nil {
				return nil, err
			}
			continue
		}

		lace := o.segments[o.seg]
		o.seg++

		buf := make([]byte, lace)
		if _, err := io.ReadFull(o.r, buf); err != nil {
			return nil, fmt.Errorf("ogg: truncated segment: %w", err)
		}
		o.partial = append(o.partial, buf...)

		if lace < 255 {
			pkt := o.partial
			o.partial = nil
			return pkt, nil
		}
	}
}

// readPage consumes one page header and loads its segment table.
func (o *oggReader) readPage() error {
	var hdr [27]byte
	if _, err := io.ReadFull(o.r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	if [4]byte(hdr[:4]) != oggCapture {
		return fmt.Errorf("ogg: bad capture pattern %q", hdr[:4])
	}
	if hdr[4] != 0 {
		return fmt.Errorf("ogg: unsupported stream version %d", hdr[4])
	}
	_ = binary.LittleEndian.Uint64(hdr[6:14]) // granule position, unused

	nsegs := int(hdr[26])
	table := make([]byte, nsegs)
	if _, err := io.ReadFull(o.r, table); err != nil {
		return fmt.Errorf("ogg: truncated segment table: %w", err)
	}
	o.segments = table
	o.seg = 0
	return nil
}
