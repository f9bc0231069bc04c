package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// AuthorizeEndpoint is the endpoint of the handshake request.
const AuthorizeEndpoint = "authorize"

// Heartbeat is the frame a client writes to keep the session alive.
var Heartbeat = []byte("[]")

// Frame markers sent by the server.
const (
	MarkerOpen      = 'o'
	MarkerHeartbeat = 'h'
	MarkerData      = 'a'
	MarkerClose     = 'c'
)

// FrameKind identifies the shape of an incoming frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameOpen
	FrameHeartbeat
	FrameData
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameOpen:
		return "open"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameData:
		return "data"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Envelope is one decoded unit of incoming traffic.
// An envelope with an ID is a response; one without is a push event.
type Envelope struct {
	ID      *uint64         `json:"i,omitempty"`
	Status  *int            `json:"s,omitempty"`
	Payload json.RawMessage `json:"d,omitempty"`
	Event   string          `json:"e,omitempty"`
}

// HasID reports whether the envelope carries a correlation id.
func (e Envelope) HasID() bool {
	return e.ID != nil
}

// StatusCode returns the envelope status, or 0 if absent.
func (e Envelope) StatusCode() int {
	if e.Status == nil {
		return 0
	}
	return *e.Status
}

// EncodeRequest builds an outgoing request frame.
//
// A nil body encodes as an empty field. json.RawMessage and []byte bodies are
// written as-is; anything else is JSON-serialized.
func EncodeRequest(endpoint string, id uint64, query string, body any) ([]byte, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("encode request: empty endpoint")
	}
	if strings.ContainsRune(endpoint, '\n') || strings.ContainsRune(query, '\n') {
		return nil, fmt.Errorf("encode request %s: newline in endpoint or query", endpoint)
	}

	var payload []byte
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		payload = b
	case []byte:
		payload = b
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request %s: %w", endpoint, err)
		}
		payload = data
	}

	return join(endpoint, id, query, payload), nil
}

// EncodeAuthorize builds the handshake frame. The token travels as the raw body.
func EncodeAuthorize(id uint64, token string) []byte {
	return join(AuthorizeEndpoint, id, "", []byte(token))
}

func join(endpoint string, id uint64, query string, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(endpoint) + len(query) + len(body) + 24)
	buf.WriteString(endpoint)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatUint(id, 10))
	buf.WriteByte('\n')
	buf.WriteString(query)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

// Classify reports the kind of an incoming frame from its marker.
func Classify(frame []byte) FrameKind {
	if len(frame) == 0 {
		return FrameUnknown
	}
	switch frame[0] {
	case MarkerOpen:
		return FrameOpen
	case MarkerHeartbeat:
		return FrameHeartbeat
	case MarkerData:
		return FrameData
	case MarkerClose:
		return FrameClose
	default:
		return FrameUnknown
	}
}

// Decode errors.
var (
	// ErrMalformedFrame rejects a whole frame outside the marker+JSON-array
	// grammar.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrMalformedEnvelope rejects one array element; its siblings are kept.
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// Decode parses a data frame into its envelopes, in array order.
// Frames that are not marker+JSON-array return nil, and elements that are
// not envelopes are skipped.
func Decode(frame []byte) []Envelope {
	envs, _ := DecodeFrame(frame)
	return envs
}

// DecodeFrame is Decode with the reasons anything was rejected. A rejected
// frame returns nil and an error matching ErrMalformedFrame. Otherwise the
// valid envelopes are returned together with an error matching
// ErrMalformedEnvelope for each skipped element.
func DecodeFrame(frame []byte) ([]Envelope, error) {
	if Classify(frame) != FrameData {
		return nil, ErrMalformedFrame
	}
	body := bytes.TrimSpace(frame[1:])
	if len(body) == 0 || body[0] != '[' {
		return nil, ErrMalformedFrame
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(body, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	envs := make([]Envelope, 0, len(elems))
	var errs []error
	for i, elem := range elems {
		env, err := decodeEnvelope(elem)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: element %d: %v", ErrMalformedEnvelope, i, err))
			continue
		}
		envs = append(envs, env)
	}
	return envs, errors.Join(errs...)
}

func decodeEnvelope(elem json.RawMessage) (Envelope, error) {
	if len(elem) == 0 || elem[0] != '{' {
		return Envelope{}, errors.New("not an object")
	}
	var env Envelope
	if err := json.Unmarshal(elem, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// CloseReason extracts the code and reason of a close frame such as
// c[1000,"Normal closure"]. ok is false if the frame is not a close frame.
func CloseReason(frame []byte) (code int, reason string, ok bool) {
	if Classify(frame) != FrameClose {
		return 0, "", false
	}

	// Partial or mistyped close frames still close the session; fields
	// that do not parse are reported as zero values.
	var parts []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(frame[1:]), &parts); err != nil {
		return 0, "", true
	}
	if len(parts) > 0 {
		if err := json.Unmarshal(parts[0], &code); err != nil {
			code = 0
		}
	}
	if len(parts) > 1 {
		if err := json.Unmarshal(parts[1], &reason); err != nil {
			reason = ""
		}
	}
	return code, reason, true
}
