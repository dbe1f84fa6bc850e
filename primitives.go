// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"encoding/binary"
	"time"
)

// readBuf and writeBuf are little-endian cursors over a byte slice, the same
// shape the original archive/zip (and its zipserve fork) use throughout the
// header codec: each accessor consumes its width and advances the slice.

type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

// sub slices off and returns the next n bytes, advancing past them.
func (b *readBuf) sub(n int) readBuf {
	buf := (*b)[:n]
	*b = (*b)[n:]
	return buf
}

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// msDosTimeToTime converts a DOS date/time pair (as stored in the LFH/CDH)
// to a wall-clock time.Time in UTC. The DOS epoch starts in 1980; the
// resolution is 2 seconds.
func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}

// timeToMsDosTime converts a time.Time to an MS-DOS date and time. The
// resolution is 2s. Dates before 1980 (the DOS epoch) clamp to the minimum
// representable date, which due to the bit layout happens to be the
// constant pattern 00 21 00 00 (year bits zero, month=1, day=1).
//
// See: https://msdn.microsoft.com/en-us/library/ms724274(v=VS.85).aspx
func timeToMsDosTime(t time.Time) (fDate uint16, fTime uint16) {
	if t.Year() < 1980 {
		return (1 << 5) | 1, 0
	}
	fDate = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	fTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// ntfsEpoch is 1601-01-01, the epoch NTFS timestamps (100ns ticks) count
// from; also the base used by X000A_NTFS extra field values.
var ntfsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

const ntfsTicksPerSecond = 1e7 // 100ns ticks per second

// ntfsTicksToTime converts a count of 100ns ticks since the NTFS epoch to a
// time.Time, preserving sub-millisecond precision.
func ntfsTicksToTime(ticks uint64) time.Time {
	secs := int64(ticks / ntfsTicksPerSecond)
	nsecs := int64(ticks%ntfsTicksPerSecond) * 100
	return time.Unix(ntfsEpoch.Unix()+secs, nsecs).UTC()
}

// timeToNTFSTicks converts a time.Time to a count of 100ns ticks since the
// NTFS epoch, round-tripping full precision (to the extent time.Time offers
// it, which is nanoseconds - two orders of magnitude finer than a tick).
func timeToNTFSTicks(t time.Time) uint64 {
	secs := t.Unix() - ntfsEpoch.Unix()
	return uint64(secs)*ntfsTicksPerSecond + uint64(t.Nanosecond()/100)
}

// unixTimeToTime converts a 32-bit Unix timestamp (used by the extended
// timestamp extra field and the legacy Info-ZIP UNIX extra) to a time.Time.
func unixTimeToTime(sec uint32) time.Time {
	return time.Unix(int64(int32(sec)), 0).UTC()
}

// Unix mode bits, as packed into the Asi extra field and the high 16 bits
// of a central directory external attributes field written under
// creatorUnix.
const (
	s_IFMT   = 0xf000
	s_IFSOCK = 0xc000
	s_IFLNK  = 0xa000
	s_IFREG  = 0x8000
	s_IFBLK  = 0x6000
	s_IFDIR  = 0x4000
	s_IFCHR  = 0x2000
	s_IFIFO  = 0x1000
	s_ISUID  = 0x800
	s_ISGID  = 0x400
	s_ISVTX  = 0x200
)
