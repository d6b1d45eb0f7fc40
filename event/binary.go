package event

import (
	"io"

	"nostrengine.dev/errorf"
	"nostrengine.dev/kind"
	"nostrengine.dev/tag"
	"nostrengine.dev/tags"
	"nostrengine.dev/timestamp"
	"nostrengine.dev/varint"
)

// MarshalBinary writes a compact binary encoding of an event, used by the
// Ring Store's per-record payload (spec §6.4):
//
// [ 32 bytes ID ]
// [ 32 bytes Pubkey ]
// [ varint CreatedAt ]
// [ varint Kind ]
// [ varint Tags length ]
//
//	[ varint tag field count ]
//	  [ varint field length ]
//	  [ field data ]
//	...
//
// [ varint Content length ]
// [ Content ]
// [ 64 bytes Sig ]
func (ev *E) MarshalBinary(w io.Writer) (err error) {
	if _, err = w.Write(ev.ID); err != nil {
		return err
	}
	if _, err = w.Write(ev.Pubkey); err != nil {
		return err
	}
	if err = varint.Encode(w, uint64(ev.CreatedAt.I64())); err != nil {
		return err
	}
	if err = varint.Encode(w, uint64(ev.Kind.K)); err != nil {
		return err
	}
	if err = varint.Encode(w, uint64(ev.Tags.Len())); err != nil {
		return err
	}
	for _, t := range ev.Tags.Tags {
		if err = varint.Encode(w, uint64(t.Len())); err != nil {
			return err
		}
		for _, field := range t.Field {
			if err = varint.Encode(w, uint64(len(field))); err != nil {
				return err
			}
			if _, err = w.Write([]byte(field)); err != nil {
				return err
			}
		}
	}
	if err = varint.Encode(w, uint64(len(ev.Content))); err != nil {
		return err
	}
	if _, err = w.Write(ev.Content); err != nil {
		return err
	}
	if _, err = w.Write(ev.Sig); err != nil {
		return err
	}
	return nil
}

// UnmarshalBinary reads the encoding produced by MarshalBinary.
func (ev *E) UnmarshalBinary(r io.Reader) (err error) {
	ev.ID = make([]byte, 32)
	if _, err = io.ReadFull(r, ev.ID); err != nil {
		return errorf.C(errorf.CorruptRecord, "read id: %v", err)
	}
	ev.Pubkey = make([]byte, 32)
	if _, err = io.ReadFull(r, ev.Pubkey); err != nil {
		return errorf.C(errorf.CorruptRecord, "read pubkey: %v", err)
	}
	var ca uint64
	if ca, err = varint.Decode(r); err != nil {
		return errorf.C(errorf.CorruptRecord, "read created_at: %v", err)
	}
	ev.CreatedAt = timestamp.FromUnix(int64(ca))
	var k uint64
	if k, err = varint.Decode(r); err != nil {
		return errorf.C(errorf.CorruptRecord, "read kind: %v", err)
	}
	ev.Kind = kind.New(uint16(k))
	var nTags uint64
	if nTags, err = varint.Decode(r); err != nil {
		return errorf.C(errorf.CorruptRecord, "read tags length: %v", err)
	}
	ev.Tags = tags.NewWithCap(int(nTags))
	for i := uint64(0); i < nTags; i++ {
		var nField uint64
		if nField, err = varint.Decode(r); err != nil {
			return errorf.C(errorf.CorruptRecord, "read tag field count: %v", err)
		}
		fields := make([]string, 0, nField)
		for j := uint64(0); j < nField; j++ {
			var lenField uint64
			if lenField, err = varint.Decode(r); err != nil {
				return errorf.C(errorf.CorruptRecord, "read field length: %v", err)
			}
			field := make([]byte, lenField)
			if _, err = io.ReadFull(r, field); err != nil {
				return errorf.C(errorf.CorruptRecord, "read field: %v", err)
			}
			fields = append(fields, string(field))
		}
		ev.Tags.AppendTags(tag.NewFromStrings(fields))
	}
	var cLen uint64
	if cLen, err = varint.Decode(r); err != nil {
		return errorf.C(errorf.CorruptRecord, "read content length: %v", err)
	}
	ev.Content = make([]byte, cLen)
	if _, err = io.ReadFull(r, ev.Content); err != nil {
		return errorf.C(errorf.CorruptRecord, "read content: %v", err)
	}
	ev.Sig = make([]byte, 64)
	if _, err = io.ReadFull(r, ev.Sig); err != nil {
		return errorf.C(errorf.CorruptRecord, "read sig: %v", err)
	}
	return nil
}
