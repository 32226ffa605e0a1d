// Package monitor implements the detection core: per-session transaction
// tracking over recognized text, and the motion-gated polling loop that
// decides when recognition is worth running.
package monitor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ceroxe/paywatch/internal/recognize"
)

// DefaultSerialPattern matches the payment popup's running transaction
// counter ("第N笔"). The single capture group must be the serial number.
const DefaultSerialPattern = `第(\d+)笔`

var whitespace = regexp.MustCompile(`\s+`)
var nonAmount = regexp.MustCompile(`[^0-9.]`)

// MatchResult is the outcome of feeding one poll's blocks to the tracker.
type MatchResult int

const (
	// NoEvent means no serial was found, or the serial did not advance.
	NoEvent MatchResult = iota
	// BaselineSet means the first serial of the session was adopted as
	// the reference point. Never a match: a pre-existing transaction on
	// screen at session start must not count as a new payment.
	BaselineSet
	// SerialAdvanced means a new transaction appeared but its amount did
	// not match the target. The session keeps polling.
	SerialAdvanced
	// Matched means a new transaction appeared with the target amount.
	Matched
)

// Tracker holds one session's detection state. It is owned exclusively
// by the session worker; no locking.
type Tracker struct {
	serialRe *regexp.Regexp
	baseline int64 // -1 until the first serial is seen
}

// NewTracker compiles the serial pattern. The pattern needs exactly one
// capture group, the numeric serial.
func NewTracker(serialPattern string) (*Tracker, error) {
	if serialPattern == "" {
		serialPattern = DefaultSerialPattern
	}
	re, err := regexp.Compile(serialPattern)
	if err != nil {
		return nil, fmt.Errorf("compile serial pattern: %w", err)
	}
	if re.NumSubexp() != 1 {
		return nil, fmt.Errorf("serial pattern %q must have exactly one capture group", serialPattern)
	}
	return &Tracker{serialRe: re, baseline: -1}, nil
}

// Baseline returns the current reference serial, or -1 if none was seen.
func (t *Tracker) Baseline() int64 {
	return t.baseline
}

// Observe consumes one poll's recognized blocks. amountText is the
// target formatted to two decimals; amountNoDot is the same with the
// decimal point stripped, tolerated because recognition sometimes drops
// the dot.
func (t *Tracker) Observe(blocks []recognize.Block, amountText, amountNoDot string) MatchResult {
	serial, ok := t.findSerial(blocks)
	if !ok {
		return NoEvent
	}
	if t.baseline == -1 {
		t.baseline = serial
		return BaselineSet
	}
	if serial <= t.baseline {
		return NoEvent
	}
	t.baseline = serial
	if amountMatches(blocks, amountText, amountNoDot) {
		return Matched
	}
	return SerialAdvanced
}

// findSerial returns the first serial number present in the blocks.
func (t *Tracker) findSerial(blocks []recognize.Block) (int64, bool) {
	for _, b := range blocks {
		text := whitespace.ReplaceAllString(b.Text, "")
		m := t.serialRe.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// amountMatches strips everything but digits and dots from each block
// and accepts exact equality, containment, or equality with the dot
// removed. The dotless form risks collisions (e.g. "100" for 1.00) but
// is kept: recognition of the popup's amount glyphs loses the dot often
// enough that dropping it would miss real payments.
func amountMatches(blocks []recognize.Block, target, targetNoDot string) bool {
	for _, b := range blocks {
		clean := nonAmount.ReplaceAllString(b.Text, "")
		if clean == "" {
			continue
		}
		if clean == target || strings.Contains(clean, target) || clean == targetNoDot {
			return true
		}
	}
	return false
}

// FormatAmount renders an amount the way both the tracker and the
// callback signature expect it: fixed two decimal places.
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
