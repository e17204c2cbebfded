package protocol

import "time"

// Mnemonic is the 3-letter command code of a request/response pair.
type Mnemonic string

const (
	MnemonicModel   Mnemonic = "MDL"
	MnemonicVersion Mnemonic = "VER"
	MnemonicStatus  Mnemonic = "STS"
)

// PollSequence is the fixed order of queries issued every poll cycle.
var PollSequence = []Mnemonic{MnemonicModel, MnemonicVersion, MnemonicStatus}

// Wire constants
const (
	LineTerminator     = "\r"
	FieldSeparator     = ","
	ResponseBufferSize = 4096

	// STS,FREQUENCY,SIGNAL_STRENGTH,MODE,VOLUME,SQUELCH
	StatusFieldCount = 6
)

// Snapshot is the published record of the latest known device state.
// Optional fields are nil when the value was not obtained in the cycle.
type Snapshot struct {
	Timestamp      time.Time         `json:"timestamp"`
	Connected      bool              `json:"connected"`
	Model          *string           `json:"model"`
	Firmware       *string           `json:"firmware"`
	Frequency      *string           `json:"frequency"`
	SignalStrength *string           `json:"signal_strength"`
	Mode           *string           `json:"mode"`
	Volume         *string           `json:"volume"`
	Squelch        *string           `json:"squelch"`
	Status         *string           `json:"status"`
	Error          *string           `json:"error"`
	RawResponses   map[string]string `json:"raw_responses"`
}

// NewSnapshot returns an empty snapshot with every optional field unavailable.
func NewSnapshot() *Snapshot {
	return &Snapshot{RawResponses: make(map[string]string)}
}

// Clone returns a deep copy so the result shares no memory with s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Model = cloneString(s.Model)
	c.Firmware = cloneString(s.Firmware)
	c.Frequency = cloneString(s.Frequency)
	c.SignalStrength = cloneString(s.SignalStrength)
	c.Mode = cloneString(s.Mode)
	c.Volume = cloneString(s.Volume)
	c.Squelch = cloneString(s.Squelch)
	c.Status = cloneString(s.Status)
	c.Error = cloneString(s.Error)
	c.RawResponses = make(map[string]string, len(s.RawResponses))
	for k, v := range s.RawResponses {
		c.RawResponses[k] = v
	}
	return &c
}

// ApplyStatus overwrites the STS sub-fields, including the unavailable ones.
func (s *Snapshot) ApplyStatus(st StatusFields) {
	s.Frequency = st.Frequency
	s.SignalStrength = st.SignalStrength
	s.Mode = st.Mode
	s.Volume = st.Volume
	s.Squelch = st.Squelch
}

// StatusFields holds the positional fields of an STS reply.
type StatusFields struct {
	Frequency      *string `json:"frequency"`
	SignalStrength *string `json:"signal_strength"`
	Mode           *string `json:"mode"`
	Volume         *string `json:"volume"`
	Squelch        *string `json:"squelch"`
}

// ParsedField is the structured result of parsing one response line.
type ParsedField struct {
	Command Mnemonic
	// Value is set for MDL, VER and pass-through mnemonics.
	Value *string
	// Status is set for STS replies.
	Status *StatusFields
	// Degraded reports a reply shorter than the mnemonic's layout.
	Degraded bool
}

// String returns a pointer to v, for populating optional fields.
func String(v string) *string {
	return &v
}

// Deref returns the value of an optional field or "" when unavailable.
func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
