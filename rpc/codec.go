package rpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	varint "github.com/multiformats/go-varint"

	"github.com/PabloMansanet/subotai/id"
	"github.com/PabloMansanet/subotai/peer"
	"github.com/PabloMansanet/subotai/storage"
)

// MaxDatagramBytes bounds a single encoded RPC (spec §4.4, §6:
// SOCKET_BUFFER_BYTES).
const MaxDatagramBytes = 65536

// ErrTooLarge is returned by Marshal when the encoded record would exceed
// MaxDatagramBytes.
var ErrTooLarge = errors.New("rpc: encoded message exceeds socket buffer size")

// ErrMalformed is returned by Unmarshal on any structurally invalid input.
var ErrMalformed = errors.New("rpc: malformed message")

// Marshal encodes a Message as a tagged, length-prefixed binary record
// (SPEC_FULL.md §4.4 [ADDED]): a one-byte kind tag, the varint-length-
// prefixed sender ID and multiaddr, then kind-specific fields.
func Marshal(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Kind))

	writeBytes(&buf, m.Sender.ID[:])
	writeBytes(&buf, m.Sender.Addr.Bytes())

	switch m.Kind {
	case KindPing, KindPingResponse:
		// No further fields.
	case KindLocate:
		writeBytes(&buf, m.Target[:])
	case KindLocateResponse:
		writeBytes(&buf, m.Target[:])
		buf.WriteByte(byte(m.Outcome))
		if m.Outcome == LocateFound {
			writePeer(&buf, m.Found)
		} else {
			writePeers(&buf, m.Closest)
		}
	case KindProbe:
		writeBytes(&buf, m.Target[:])
	case KindProbeResponse:
		writeBytes(&buf, m.Target[:])
		writePeers(&buf, m.Peers)
	case KindRetrieve:
		writeBytes(&buf, m.Target[:])
	case KindRetrieveResponse:
		writeBytes(&buf, m.Target[:])
		buf.WriteByte(byte(m.RetrieveKind))
		if m.RetrieveKind == RetrieveFound {
			writeEntries(&buf, m.Values)
		} else {
			writePeers(&buf, m.Closest)
		}
	case KindStore:
		writeBytes(&buf, m.Target[:])
		writeEntry(&buf, m.Value)
		writeExpiration(&buf, m.Expiration)
	case KindMassStore:
		writeBytes(&buf, m.Target[:])
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(m.Values2))); err != nil {
			return nil, err
		}
		for _, v := range m.Values2 {
			writeEntry(&buf, v.Entry)
			writeExpiration(&buf, v.Expiration)
		}
	case KindStoreResponse:
		writeBytes(&buf, m.Target[:])
		buf.WriteByte(byte(m.Result))
	default:
		return nil, ErrMalformed
	}

	if buf.Len() > MaxDatagramBytes {
		return nil, ErrTooLarge
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Message encoded by Marshal.
func Unmarshal(data []byte) (Message, error) {
	r := bytes.NewReader(data)

	kindByte, err := r.ReadByte()
	if err != nil {
		return Message{}, ErrMalformed
	}
	m := Message{Kind: Kind(kindByte)}

	if err := readID(r, &m.Sender.ID); err != nil {
		return Message{}, err
	}

	addrBytes, err := readBytes(r)
	if err != nil {
		return Message{}, err
	}
	addr, err := peer.FromBytes(addrBytes)
	if err != nil {
		return Message{}, ErrMalformed
	}
	m.Sender.Addr = addr

	switch m.Kind {
	case KindPing, KindPingResponse:
	case KindLocate, KindProbe, KindRetrieve:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
	case KindLocateResponse:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
		outcome, err := r.ReadByte()
		if err != nil {
			return Message{}, ErrMalformed
		}
		m.Outcome = LocateOutcome(outcome)
		if m.Outcome == LocateFound {
			m.Found, err = readPeer(r)
		} else {
			m.Closest, err = readPeers(r)
		}
		if err != nil {
			return Message{}, err
		}
	case KindProbeResponse:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
		peers, err := readPeers(r)
		if err != nil {
			return Message{}, err
		}
		m.Peers = peers
	case KindRetrieveResponse:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
		retrieveKind, err := r.ReadByte()
		if err != nil {
			return Message{}, ErrMalformed
		}
		m.RetrieveKind = RetrieveOutcome(retrieveKind)
		if m.RetrieveKind == RetrieveFound {
			m.Values, err = readEntries(r)
		} else {
			m.Closest, err = readPeers(r)
		}
		if err != nil {
			return Message{}, err
		}
	case KindStore:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
		entry, err := readEntry(r)
		if err != nil {
			return Message{}, err
		}
		m.Value = entry
		exp, err := readExpiration(r)
		if err != nil {
			return Message{}, err
		}
		m.Expiration = exp
	case KindMassStore:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return Message{}, ErrMalformed
		}
		m.Values2 = make([]StoredValue, 0, count)
		for i := uint32(0); i < count; i++ {
			entry, err := readEntry(r)
			if err != nil {
				return Message{}, err
			}
			exp, err := readExpiration(r)
			if err != nil {
				return Message{}, err
			}
			m.Values2 = append(m.Values2, StoredValue{Entry: entry, Expiration: exp})
		}
	case KindStoreResponse:
		if err := readID(r, &m.Target); err != nil {
			return Message{}, err
		}
		result, err := r.ReadByte()
		if err != nil {
			return Message{}, ErrMalformed
		}
		m.Result = storage.Result(result)
	default:
		return Message{}, ErrMalformed
	}

	return m, nil
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	prefix := varint.ToUvarint(uint64(len(data)))
	buf.Write(prefix)
	buf.Write(data)
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, ErrMalformed
	}
	return readFixed(r, int(n))
}

func readFixed(r *bytes.Reader, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrMalformed
	}
	return out, nil
}

func readID(r *bytes.Reader, into *id.ID) error {
	data, err := readBytes(r)
	if err != nil {
		return err
	}
	if len(data) != id.SizeBytes {
		return ErrMalformed
	}
	copy(into[:], data)
	return nil
}

func writePeer(buf *bytes.Buffer, p peer.Info) {
	writeBytes(buf, p.ID[:])
	writeBytes(buf, p.Addr.Bytes())
}

func readPeer(r *bytes.Reader) (peer.Info, error) {
	idBytes, err := readBytes(r)
	if err != nil {
		return peer.Info{}, err
	}
	addrBytes, err := readBytes(r)
	if err != nil {
		return peer.Info{}, err
	}
	addr, err := peer.FromBytes(addrBytes)
	if err != nil {
		return peer.Info{}, ErrMalformed
	}
	var p peer.Info
	copy(p.ID[:], idBytes)
	p.Addr = addr
	return p, nil
}

func writePeers(buf *bytes.Buffer, peers []peer.Info) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(peers)))
	for _, p := range peers {
		writePeer(buf, p)
	}
}

func readPeers(r *bytes.Reader) ([]peer.Info, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, ErrMalformed
	}
	out := make([]peer.Info, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := readPeer(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func writeEntry(buf *bytes.Buffer, e storage.Entry) {
	if e.IsBlob() {
		buf.WriteByte(1)
		writeBytes(buf, e.Blob)
	} else {
		buf.WriteByte(0)
		writeBytes(buf, e.ID[:])
	}
}

func readEntry(r *bytes.Reader) (storage.Entry, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return storage.Entry{}, ErrMalformed
	}
	if tag == 1 {
		blob, err := readBytes(r)
		if err != nil {
			return storage.Entry{}, err
		}
		return storage.Entry{Blob: blob}, nil
	}
	idBytes, err := readBytes(r)
	if err != nil {
		return storage.Entry{}, err
	}
	var value id.ID
	copy(value[:], idBytes)
	return storage.Entry{ID: value}, nil
}

func writeEntries(buf *bytes.Buffer, entries []storage.Entry) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(entries)))
	for _, e := range entries {
		writeEntry(buf, e)
	}
}

func readEntries(r *bytes.Reader) ([]storage.Entry, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, ErrMalformed
	}
	out := make([]storage.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// writeExpiration encodes a time.Time as a broken-down-local-time struct:
// year, month, day, hour, minute, second, nanosecond, UTC offset seconds,
// day-of-year, weekday, and a DST flag, matching time.Time's
// Date()/Clock()/Nanosecond()/Zone()/YearDay()/Weekday() outputs
// (SPEC_FULL.md §4.4 [ADDED]; spec.md §6 names the nanosecond and DST
// fields explicitly). Sufficient to round-trip a broken-down local time
// with full precision.
func writeExpiration(buf *bytes.Buffer, t time.Time) {
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	zoneName, offset := t.Zone()

	_ = binary.Write(buf, binary.BigEndian, int32(year))
	_ = binary.Write(buf, binary.BigEndian, int8(month))
	_ = binary.Write(buf, binary.BigEndian, int8(day))
	_ = binary.Write(buf, binary.BigEndian, int8(hour))
	_ = binary.Write(buf, binary.BigEndian, int8(min))
	_ = binary.Write(buf, binary.BigEndian, int8(sec))
	_ = binary.Write(buf, binary.BigEndian, int32(t.Nanosecond()))
	_ = binary.Write(buf, binary.BigEndian, int32(offset))
	_ = binary.Write(buf, binary.BigEndian, int16(t.YearDay()))
	_ = binary.Write(buf, binary.BigEndian, int8(t.Weekday()))

	dst := byte(0)
	if isDST(zoneName, t) {
		dst = 1
	}
	buf.WriteByte(dst)
}

// isDST reports whether t's zone abbreviation differs from the zone in
// effect at the start of t's year, our best-effort proxy for "daylight
// saving currently in effect" without assuming a specific location's rules.
func isDST(zoneName string, t time.Time) bool {
	jan1 := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	janName, _ := jan1.Zone()
	return zoneName != janName
}

func readExpiration(r *bytes.Reader) (time.Time, error) {
	var year int32
	var month, day, hour, min, sec int8
	var nsec int32
	var offset int32
	var yearDay int16
	var weekday int8

	fields := []interface{}{&year, &month, &day, &hour, &min, &sec, &nsec, &offset, &yearDay, &weekday}
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return time.Time{}, ErrMalformed
		}
	}
	if _, err := r.ReadByte(); err != nil {
		return time.Time{}, ErrMalformed
	}

	loc := time.FixedZone("", int(offset))
	return time.Date(int(year), time.Month(month), int(day), int(hour), int(min), int(sec), int(nsec), loc), nil
}
