// Package probe holds the echo probe wire message, the per-sequence
// measurement record and the statistics computed over them.
package probe

// NotYet marks a reply or receive timestamp that was never observed.
const NotYet int64 = -1

// Kind distinguishes echo requests from replies.
type Kind uint8

const (
	Request Kind = iota + 1
	Reply
)

// Message is the payload exchanged between a source and a sink agent.
// ReplyTs is only meaningful on replies and carries the sink's arrival time.
type Message struct {
	Kind    Kind
	Seq     uint64
	SendTs  int64
	ReplyTs int64
}

// Record is the raw measurement for one sequence number of one pair.
type Record struct {
	Seq     uint64 `json:"seq"`
	SendTs  int64  `json:"send_ts"`
	ReplyTs int64  `json:"reply_ts"`
	RecvTs  int64  `json:"recv_ts"`
}

// NewRecord starts a record at send time with both later timestamps unset.
func NewRecord(seq uint64, sendTs int64) Record {
	return Record{Seq: seq, SendTs: sendTs, ReplyTs: NotYet, RecvTs: NotYet}
}

// Arrived reports whether the echo made it back.
func (r Record) Arrived() bool {
	return r.ReplyTs != NotYet
}

// There is the one-way latency to the sink, or NotYet.
func (r Record) There() int64 {
	if !r.Arrived() {
		return NotYet
	}
	return r.ReplyTs - r.SendTs
}

// Back is the one-way latency from the sink, or NotYet.
func (r Record) Back() int64 {
	if !r.Arrived() || r.RecvTs == NotYet {
		return NotYet
	}
	return r.RecvTs - r.ReplyTs
}

// RTT is the round trip time, or NotYet.
func (r Record) RTT() int64 {
	if !r.Arrived() || r.RecvTs == NotYet {
		return NotYet
	}
	return r.RecvTs - r.SendTs
}
