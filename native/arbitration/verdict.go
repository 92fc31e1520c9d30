package arbitration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Winner names the side the arbitrator favoured. It is advisory: settlement
// reads only RefundPct.
type Winner string

const (
	WinnerBuyer  Winner = "buyer"
	WinnerSeller Winner = "seller"
)

const (
	MaxRefundPct      = 100
	MaxRationaleChars = 400
)

// ErrMalformedVerdict wraps every reason a candidate fails the contract.
var ErrMalformedVerdict = errors.New("arbitration: malformed verdict")

// Criteria is the prose form of the validation contract enforced by
// ParseVerdict.
const Criteria = `Output must be a valid JSON object with exactly the keys winner, refund_pct, rationale.
winner must be exactly "buyer" or "seller".
refund_pct must be an integer between 0 and 100 inclusive.
rationale must be a string of at most 400 characters.
No extra keys are allowed.`

// TaskDescription is the task statement handed to validators.
const TaskDescription = "Resolve an escrow dispute fairly based on the statements and evidence of both parties"

// Verdict is the structured arbitration outcome.
type Verdict struct {
	Winner    Winner `json:"winner"`
	RefundPct int    `json:"refund_pct"`
	Rationale string `json:"rationale"`
}

var verdictKeys = [...]string{"winner", "refund_pct", "rationale"}

// ParseVerdict decodes raw model output and enforces the full contract:
// object shape, no missing or extra keys, typed fields and ranges.
func ParseVerdict(raw string) (*Verdict, error) {
	fields, err := decodeObject(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	for _, key := range verdictKeys {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedVerdict, key)
		}
	}
	if len(fields) != len(verdictKeys) {
		return nil, fmt.Errorf("%w: unexpected keys %v", ErrMalformedVerdict, extraKeys(fields))
	}

	v := &Verdict{}
	var winner string
	if err := json.Unmarshal(fields["winner"], &winner); err != nil {
		return nil, fmt.Errorf("%w: winner must be a string", ErrMalformedVerdict)
	}
	v.Winner = Winner(winner)

	pct, err := parseStrictInt(fields["refund_pct"])
	if err != nil {
		return nil, err
	}
	v.RefundPct = pct

	if isNull(fields["rationale"]) {
		return nil, fmt.Errorf("%w: rationale must be a string", ErrMalformedVerdict)
	}
	if err := json.Unmarshal(fields["rationale"], &v.Rationale); err != nil {
		return nil, fmt.Errorf("%w: rationale must be a string", ErrMalformedVerdict)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// decodeObject reads a single top-level JSON object. Duplicate keys and
// trailing data are rejected.
func decodeObject(raw string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedVerdict, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedVerdict)
	}
	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedVerdict, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedVerdict)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %s", ErrMalformedVerdict, key)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedVerdict, err)
		}
		fields[key] = value
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", ErrMalformedVerdict, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedVerdict)
	}
	return fields, nil
}

// Validate checks field ranges on an already-typed verdict.
func (v *Verdict) Validate() error {
	if v == nil {
		return fmt.Errorf("%w: nil verdict", ErrMalformedVerdict)
	}
	if v.Winner != WinnerBuyer && v.Winner != WinnerSeller {
		return fmt.Errorf("%w: winner %q", ErrMalformedVerdict, v.Winner)
	}
	if v.RefundPct < 0 || v.RefundPct > MaxRefundPct {
		return fmt.Errorf("%w: refund_pct %d out of range", ErrMalformedVerdict, v.RefundPct)
	}
	if n := utf8.RuneCountInString(v.Rationale); n > MaxRationaleChars {
		return fmt.Errorf("%w: rationale has %d characters", ErrMalformedVerdict, n)
	}
	return nil
}

// Check adapts ParseVerdict to the consensus task contract.
func Check(output string) error {
	_, err := ParseVerdict(output)
	return err
}

// JSON returns the canonical encoding of the verdict.
func (v *Verdict) JSON() string {
	data, _ := json.Marshal(v)
	return string(data)
}

// Clone returns a copy of v.
func (v *Verdict) Clone() *Verdict {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// parseStrictInt accepts a bare JSON integer literal only: strings, floats
// and exponents are rejected even when their value is integral.
func parseStrictInt(raw json.RawMessage) (int, error) {
	literal := string(bytes.TrimSpace(raw))
	if literal == "" || (literal[0] != '-' && (literal[0] < '0' || literal[0] > '9')) {
		return 0, fmt.Errorf("%w: refund_pct must be an integer, got %s", ErrMalformedVerdict, literal)
	}
	n, err := strconv.ParseInt(literal, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: refund_pct must be an integer, got %s", ErrMalformedVerdict, literal)
	}
	return int(n), nil
}

func extraKeys(fields map[string]json.RawMessage) []string {
	var extra []string
	for key := range fields {
		known := false
		for _, k := range verdictKeys {
			if key == k {
				known = true
				break
			}
		}
		if !known {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return extra
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
