package tracker

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

const (
	programDataPrefix = "Program data: "
	programLogPrefix  = "Program log: "

	resolvedStatusOK     = 0
	resolvedStatusFailed = 1
)

// ResolvedDiscriminator prefixes the structured ComputationResolved event.
var ResolvedDiscriminator = EventDiscriminator("ComputationResolved")

var errShortEvent = errors.New("computation event too short")

var (
	compareLine   = regexp.MustCompile(`Price comparison result: prices_match=(true|false)`)
	fillLine      = regexp.MustCompile(`Fill calculation result: fill_amount=(\d+) buy_filled=(true|false) sell_filled=(true|false)`)
	failedLine    = regexp.MustCompile(`Computation failed: kind=(compare|fill) reason=(.*?)(?: request_id=[0-9a-fA-F]+)?$`)
	requestIDPart = regexp.MustCompile(`request_id=([0-9a-fA-F]+)`)
)

// EventDiscriminator returns the 8-byte tag of a program event.
func EventDiscriminator(name string) [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("event:" + name))
	copy(d[:], sum[:8])
	return d
}

// event is a computation outcome recovered from a log line. A nil requestID
// means the line did not say which computation it belongs to.
type event struct {
	requestID []byte
	result    ComputationResult
}

// parseLine recognizes structured events and the human-readable result
// lines. ok is false for unrelated lines.
func parseLine(line string) (ev event, ok bool) {
	if data, found := strings.CutPrefix(line, programDataPrefix); found {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return event{}, false
		}
		ev, err := decodeResolved(raw)
		if err != nil {
			return event{}, false
		}
		return ev, true
	}

	text := strings.TrimPrefix(line, programLogPrefix)
	switch {
	case compareLine.MatchString(text):
		m := compareLine.FindStringSubmatch(text)
		ev.result = ComputationResult{Kind: KindCompare, Status: StatusCompleted, PricesMatch: m[1] == "true"}
	case fillLine.MatchString(text):
		m := fillLine.FindStringSubmatch(text)
		amount, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return event{}, false
		}
		ev.result = ComputationResult{
			Kind:       KindFill,
			Status:     StatusCompleted,
			FillAmount: amount,
			BuyFilled:  m[2] == "true",
			SellFilled: m[3] == "true",
		}
	case failedLine.MatchString(text):
		m := failedLine.FindStringSubmatch(text)
		kind, err := ParseKind(m[1])
		if err != nil {
			return event{}, false
		}
		ev.result = ComputationResult{Kind: kind, Status: StatusFailed, Reason: strings.TrimSpace(m[2])}
	default:
		return event{}, false
	}

	if m := requestIDPart.FindStringSubmatch(text); m != nil {
		if id, err := hex.DecodeString(m[1]); err == nil {
			ev.requestID = id
		}
	}
	return ev, true
}

// decodeResolved decodes a ComputationResolved event:
//
//	discriminator[8] | computation offset u64 | kind u8 | status u8 | body
//
// where the body is prices_match u8 for comparisons and
// fill_amount u64 | buy_filled u8 | sell_filled u8 for fills.
func decodeResolved(raw []byte) (event, error) {
	const header = 8 + 8 + 1 + 1
	if len(raw) < header || [8]byte(raw[:8]) != ResolvedDiscriminator {
		return event{}, errShortEvent
	}

	var ev event
	ev.requestID = append([]byte(nil), raw[8:16]...)
	kind := Kind(raw[16])
	status := raw[17]
	body := raw[header:]

	ev.result.Kind = kind
	if status == resolvedStatusFailed {
		ev.result.Status = StatusFailed
		ev.result.Reason = strings.TrimRight(string(body), "\x00")
		return ev, nil
	}
	if status != resolvedStatusOK {
		return event{}, errShortEvent
	}
	ev.result.Status = StatusCompleted

	switch kind {
	case KindCompare:
		if len(body) < 1 {
			return event{}, errShortEvent
		}
		ev.result.PricesMatch = body[0] != 0
	case KindFill:
		if len(body) < 10 {
			return event{}, errShortEvent
		}
		ev.result.FillAmount = binary.LittleEndian.Uint64(body[:8])
		ev.result.BuyFilled = body[8] != 0
		ev.result.SellFilled = body[9] != 0
	default:
		return event{}, errShortEvent
	}
	return ev, nil
}

// EncodeResolved builds the ComputationResolved event for offset.
func EncodeResolved(offset uint64, r ComputationResult) []byte {
	out := make([]byte, 0, 28)
	out = append(out, ResolvedDiscriminator[:]...)
	out = binary.LittleEndian.AppendUint64(out, offset)
	out = append(out, byte(r.Kind))
	if r.Status == StatusFailed {
		out = append(out, resolvedStatusFailed)
		return append(out, r.Reason...)
	}
	out = append(out, resolvedStatusOK)
	switch r.Kind {
	case KindCompare:
		out = append(out, boolByte(r.PricesMatch))
	case KindFill:
		out = binary.LittleEndian.AppendUint64(out, r.FillAmount)
		out = append(out, boolByte(r.BuyFilled), boolByte(r.SellFilled))
	}
	return out
}

// RequestID returns the request id the tracker uses for a computation
// offset.
func RequestID(offset uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, offset)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
