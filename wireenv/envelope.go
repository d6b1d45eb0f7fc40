// Package wireenv implements the internal cross-worker message envelope
// spec §6.3 names: a FlatBuffers-framed WorkerMessage{sub_id?, url?, type,
// content} that every worker boundary (Cache Worker, Signer Service,
// Pipeline terminal pipe, Network Manager) uses to hand payloads across a
// message port. Built directly on the teacher's go.mod dependency on
// github.com/google/flatbuffers, whose Builder/Table primitives this
// package drives by hand rather than through flatc-generated accessors
// (this engine's build has no flatc invocation available) — see DESIGN.md
// for the union-vs-discriminant-byte deviation this implies.
package wireenv

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	flatbuffers "github.com/google/flatbuffers/go"

	"nostrengine.dev/cashu"
	"nostrengine.dev/errorf"
)

// MsgType is the WorkerMessage.type discriminant (spec §6.3 union members).
type MsgType byte

const (
	MsgParsedEvent MsgType = iota
	MsgNostrEvent
	MsgConnectionStatus
	MsgRaw
	MsgEoce
	MsgCountResponse
	MsgSignerRequest
	MsgSignerResponse
	MsgProofsResponse
)

// field indices within the WorkerMessage table, in schema-declaration
// order; vtableOffset(i) below converts these into flatbuffers' (i+2)*2
// vtable slot convention.
const (
	fieldSubID = iota
	fieldURL
	fieldMsgType
	fieldContent
	numFields
)

func vtableOffset(i int) flatbuffers.VOffsetT { return flatbuffers.VOffsetT((i + 2) * 2) }

// Envelope is the decoded form of a WorkerMessage.
type Envelope struct {
	SubID   string
	URL     string
	Type    MsgType
	Content []byte
}

// Encode renders e into the FlatBuffers wire form transmitted across a
// message port.
func Encode(e *Envelope) []byte {
	b := flatbuffers.NewBuilder(64 + len(e.Content))

	var subIDOff, urlOff flatbuffers.UOffsetT
	if e.SubID != "" {
		subIDOff = b.CreateString(e.SubID)
	}
	if e.URL != "" {
		urlOff = b.CreateString(e.URL)
	}
	contentOff := b.CreateByteVector(e.Content)

	b.StartObject(numFields)
	b.PrependUOffsetTSlot(fieldContent, contentOff, 0)
	b.PrependByteSlot(fieldMsgType, byte(e.Type), 0)
	if urlOff != 0 {
		b.PrependUOffsetTSlot(fieldURL, urlOff, 0)
	}
	if subIDOff != 0 {
		b.PrependUOffsetTSlot(fieldSubID, subIDOff, 0)
	}
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes()
}

// Decode parses a WorkerMessage previously produced by Encode.
func Decode(buf []byte) (*Envelope, error) {
	if len(buf) < 4 {
		return nil, errorf.C(errorf.InvalidFrame, "wireenv: buffer too short")
	}
	n := flatbuffers.GetUOffsetT(buf)
	tbl := flatbuffers.Table{Bytes: buf, Pos: n}

	e := &Envelope{}
	if o := flatbuffers.UOffsetT(tbl.Offset(vtableOffset(fieldSubID))); o != 0 {
		e.SubID = string(tbl.ByteVector(o + tbl.Pos))
	}
	if o := flatbuffers.UOffsetT(tbl.Offset(vtableOffset(fieldURL))); o != 0 {
		e.URL = string(tbl.ByteVector(o + tbl.Pos))
	}
	if o := flatbuffers.UOffsetT(tbl.Offset(vtableOffset(fieldMsgType))); o != 0 {
		e.Type = MsgType(tbl.GetByte(o + tbl.Pos))
	}
	if o := flatbuffers.UOffsetT(tbl.Offset(vtableOffset(fieldContent))); o != 0 {
		e.Content = tbl.ByteVector(o + tbl.Pos)
	}
	return e, nil
}

// --- content sub-encodings ---
//
// The outer WorkerMessage envelope above is genuine FlatBuffers, per spec
// §6.3. Its content union members (ConnectionStatus, Eoce, CountResponse,
// SignerRequest, SignerResponse) are simple fixed-shape records with no
// nested unions of their own, so rather than hand-author a second
// generated-style table per variant, this package frames them with the
// same length-prefixed field convention parsed.Event's binary codec
// already established — one tagged encoder, reused, instead of a second
// one-off scheme. ParsedEvent/NostrEvent content is the raw output of
// parsed.Event.MarshalBinary / event.E.MarshalBinary and is decoded by
// those packages directly, not here.

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeField(buf *bytes.Buffer, v []byte) {
	writeU32(buf, uint32(len(v)))
	buf.Write(v)
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errorf.C(errorf.CorruptRecord, "wireenv: truncated u32: %v", err)
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readField(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err = io.ReadFull(r, out); err != nil {
		return nil, errorf.C(errorf.CorruptRecord, "wireenv: truncated field: %v", err)
	}
	return out, nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, errorf.C(errorf.CorruptRecord, "wireenv: truncated bool: %v", err)
	}
	return b != 0, nil
}

// ConnectionStatus mirrors the worker-to-main ConnectionStatus{status, url,
// message} shape (spec §6.2).
type ConnectionStatus struct {
	Status  string
	URL     string
	Message string
}

func EncodeConnectionStatus(s ConnectionStatus) []byte {
	var buf bytes.Buffer
	writeField(&buf, []byte(s.Status))
	writeField(&buf, []byte(s.URL))
	writeField(&buf, []byte(s.Message))
	return buf.Bytes()
}

func DecodeConnectionStatus(b []byte) (ConnectionStatus, error) {
	r := bytes.NewReader(b)
	var s ConnectionStatus
	status, err := readField(r)
	if err != nil {
		return s, err
	}
	url, err := readField(r)
	if err != nil {
		return s, err
	}
	msg, err := readField(r)
	if err != nil {
		return s, err
	}
	s.Status, s.URL, s.Message = string(status), string(url), string(msg)
	return s, nil
}

// CountResponse mirrors worker-to-main Count{kind,count,you,metadata}.
// CreatedAt is the Counter pipe's supplemental "most recent created_at in
// this kind bucket" field (SPEC_FULL.md's Count pipe metadata addition),
// letting a host render "X new replies since Y" without a second query.
type CountResponse struct {
	Kind      uint16
	Count     int64
	You       bool
	CreatedAt int64
}

func EncodeCountResponse(c CountResponse) []byte {
	var buf bytes.Buffer
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], c.Kind)
	buf.Write(tmp2[:])
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(c.Count))
	buf.Write(tmp8[:])
	writeBool(&buf, c.You)
	binary.LittleEndian.PutUint64(tmp8[:], uint64(c.CreatedAt))
	buf.Write(tmp8[:])
	return buf.Bytes()
}

func DecodeCountResponse(b []byte) (CountResponse, error) {
	r := bytes.NewReader(b)
	var c CountResponse
	var tmp2 [2]byte
	if _, err := io.ReadFull(r, tmp2[:]); err != nil {
		return c, errorf.C(errorf.CorruptRecord, "wireenv: truncated count kind: %v", err)
	}
	c.Kind = binary.LittleEndian.Uint16(tmp2[:])
	var tmp8 [8]byte
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return c, errorf.C(errorf.CorruptRecord, "wireenv: truncated count value: %v", err)
	}
	c.Count = int64(binary.LittleEndian.Uint64(tmp8[:]))
	you, err := readBool(r)
	if err != nil {
		return c, err
	}
	c.You = you
	if _, err := io.ReadFull(r, tmp8[:]); err != nil {
		return c, errorf.C(errorf.CorruptRecord, "wireenv: truncated count created_at: %v", err)
	}
	c.CreatedAt = int64(binary.LittleEndian.Uint64(tmp8[:]))
	return c, nil
}

// SignerOp enumerates the Signer Service RPC operations (spec §4.6, §6.3).
type SignerOp byte

const (
	OpGetPubkey SignerOp = iota
	OpSignEvent
	OpNip04Encrypt
	OpNip04Decrypt
	OpNip44Encrypt
	OpNip44Decrypt
	OpNip04DecryptBetween
	OpNip44DecryptBetween
	OpVerifyProof
)

// SignerRequest mirrors §6.3's SignerRequest{request_id, op, payload,
// pubkey?, sender_pubkey?, recipient_pubkey?}.
type SignerRequest struct {
	RequestID       string
	Op              SignerOp
	Payload         []byte
	Pubkey          string
	SenderPubkey    string
	RecipientPubkey string
}

func EncodeSignerRequest(r SignerRequest) []byte {
	var buf bytes.Buffer
	writeField(&buf, []byte(r.RequestID))
	buf.WriteByte(byte(r.Op))
	writeField(&buf, r.Payload)
	writeField(&buf, []byte(r.Pubkey))
	writeField(&buf, []byte(r.SenderPubkey))
	writeField(&buf, []byte(r.RecipientPubkey))
	return buf.Bytes()
}

func DecodeSignerRequest(b []byte) (SignerRequest, error) {
	rd := bytes.NewReader(b)
	var sr SignerRequest
	id, err := readField(rd)
	if err != nil {
		return sr, err
	}
	sr.RequestID = string(id)
	op, err := rd.ReadByte()
	if err != nil {
		return sr, errorf.C(errorf.CorruptRecord, "wireenv: truncated signer op: %v", err)
	}
	sr.Op = SignerOp(op)
	if sr.Payload, err = readField(rd); err != nil {
		return sr, err
	}
	pub, err := readField(rd)
	if err != nil {
		return sr, err
	}
	sr.Pubkey = string(pub)
	sender, err := readField(rd)
	if err != nil {
		return sr, err
	}
	sr.SenderPubkey = string(sender)
	recipient, err := readField(rd)
	if err != nil {
		return sr, err
	}
	sr.RecipientPubkey = string(recipient)
	return sr, nil
}

// SignerResponse mirrors §6.3's SignerResponse{request_id, result?, error?}.
type SignerResponse struct {
	RequestID string
	Result    []byte
	Error     string
}

func EncodeSignerResponse(r SignerResponse) []byte {
	var buf bytes.Buffer
	writeField(&buf, []byte(r.RequestID))
	writeField(&buf, r.Result)
	writeField(&buf, []byte(r.Error))
	return buf.Bytes()
}

func DecodeSignerResponse(b []byte) (SignerResponse, error) {
	rd := bytes.NewReader(b)
	var sr SignerResponse
	id, err := readField(rd)
	if err != nil {
		return sr, err
	}
	sr.RequestID = string(id)
	if sr.Result, err = readField(rd); err != nil {
		return sr, err
	}
	errMsg, err := readField(rd)
	if err != nil {
		return sr, err
	}
	sr.Error = string(errMsg)
	return sr, nil
}

// ProofsResponse mirrors the worker-to-main Proofs{mint, proofs} message
// (spec §6.2), one entry per mint the Cache Worker's AggregateProofs found
// unspent proofs for.
type ProofsResponse struct {
	Mints []ProofsResponseMint
}

// ProofsResponseMint is one mint's unspent proof set.
type ProofsResponseMint struct {
	Mint   string         `json:"mint"`
	Proofs []*cashu.Proof `json:"proofs"`
}

// EncodeProofsResponse/DecodeProofsResponse use JSON rather than this
// package's length-prefixed field convention: a Proof already carries its
// own json tags (cashu/proof.go, shared with the wire format mints speak),
// and its shape is deep and variable enough — optional dleq, p2pk sigs,
// htlc preimage — that a fixed binary layout would just re-derive JSON
// poorly. ConnectionStatus/CountResponse stay on the fixed-field encoding
// since their shape never varies.
func EncodeProofsResponse(p ProofsResponse) []byte {
	b, err := json.Marshal(p.Mints)
	if err != nil {
		return nil
	}
	return b
}

func DecodeProofsResponse(b []byte) (ProofsResponse, error) {
	var mints []ProofsResponseMint
	if err := json.Unmarshal(b, &mints); err != nil {
		return ProofsResponse{}, errorf.C(errorf.CorruptRecord, "wireenv: malformed proofs response: %v", err)
	}
	return ProofsResponse{Mints: mints}, nil
}
