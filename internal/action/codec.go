package action

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/protoengine/internal/ir"
)

// Envelope is the serialized form of a dispatched action. Seq is the
// pipeline sequence number, strictly increasing within a run.
type Envelope struct {
	Seq     int64           `json:"seq"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps a in an envelope with canonical JSON payload, so the same
// action always encodes to the same bytes.
func Encode(seq int64, a Action) (Envelope, error) {
	payload, err := ir.MarshalCanonical(a)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s action: %w", a.Type(), err)
	}
	return Envelope{Seq: seq, Type: a.Type(), Payload: payload}, nil
}

// Decode reconstructs the action carried by an envelope.
func Decode(env Envelope) (Action, error) {
	switch env.Type {
	case TypeQueueCommand:
		return decodeAs[QueueCommand](env)
	case TypeCommandStarted:
		return decodeAs[CommandStarted](env)
	case TypeCommandSucceeded:
		return decodeSucceeded(env)
	case TypeCommandFailed:
		return decodeAs[CommandFailed](env)
	case TypePlay:
		return decodeAs[Play](env)
	case TypePause:
		return decodeAs[Pause](env)
	case TypeStop:
		return decodeAs[Stop](env)
	case TypeResumeFromRecovery:
		return decodeAs[ResumeFromRecovery](env)
	case TypeFinish:
		return decodeAs[Finish](env)
	case TypeHardwareEvent:
		return decodeAs[HardwareEvent](env)
	case TypeModuleStatus:
		return decodeAs[ModuleStatus](env)
	case TypeAddLabwareOffset:
		return decodeAs[AddLabwareOffset](env)
	case TypeSetRunTimeParameters:
		return decodeAs[SetRunTimeParameters](env)
	default:
		return nil, fmt.Errorf("decode action %d: unknown type %q", env.Seq, env.Type)
	}
}

func decodeAs[T Action](env Envelope) (Action, error) {
	var a T
	if err := json.Unmarshal(env.Payload, &a); err != nil {
		return nil, fmt.Errorf("decode %s action %d: %w", env.Type, env.Seq, err)
	}
	return a, nil
}

func decodeSucceeded(env Envelope) (Action, error) {
	var raw struct {
		CommandSucceeded
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(env.Payload, &raw); err != nil {
		return nil, fmt.Errorf("decode %s action %d: %w", env.Type, env.Seq, err)
	}

	a := raw.CommandSucceeded
	result, err := ir.DecodeResult(a.Kind, raw.Result)
	if err != nil {
		return nil, fmt.Errorf("decode %s action %d: %w", env.Type, env.Seq, err)
	}
	a.Result = result
	return a, nil
}

// MarshalEnvelopes renders envelopes as a JSON array, one per line, which is
// the format of exported action logs.
func MarshalEnvelopes(envs []Envelope) ([]byte, error) {
	out := []byte("[\n")
	for i, env := range envs {
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal action %d: %w", env.Seq, err)
		}
		out = append(out, "  "...)
		out = append(out, b...)
		if i < len(envs)-1 {
			out = append(out, ',')
		}
		out = append(out, '\n')
	}
	out = append(out, "]\n"...)
	return out, nil
}

// UnmarshalEnvelopes parses an exported action log.
func UnmarshalEnvelopes(data []byte) ([]Envelope, error) {
	var envs []Envelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("parse action log: %w", err)
	}
	return envs, nil
}
