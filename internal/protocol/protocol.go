package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adityalohuni/snapfile/internal/config"
)

// Prefix tags frame-tree traffic on a channel shared with other messages.
const Prefix = "__frameTree__"

const separator = "::"

// RootWindowID identifies the top-level document of a capture.
const RootWindowID = "0"

type Method string

const (
	MethodInitRequest  Method = "initRequest"
	MethodInitResponse Method = "initResponse"
)

// ErrUnrelated is returned by Decode for text that is not frame-tree traffic.
var ErrUnrelated = errors.New("protocol: not a frame-tree message")

// Message is either an InitRequest or an InitResponse.
type Message interface {
	Method() Method
}

// InitRequest asks a nested context to snapshot itself and its descendants.
type InitRequest struct {
	WindowID  string          `json:"windowId"`
	SessionID int64           `json:"sessionId"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Options   *config.Options `json:"options,omitempty"`
}

// InitResponse carries frame entries back to the aggregating context.
// Entries with Processed unset are registrations of frames that will
// report later.
type InitResponse struct {
	WindowID  string      `json:"windowId,omitempty"`
	SessionID int64       `json:"sessionId"`
	Frames    []FrameData `json:"framesData"`
}

func (InitRequest) Method() Method  { return MethodInitRequest }
func (InitResponse) Method() Method { return MethodInitResponse }

type FrameData struct {
	WindowID            string        `json:"windowId"`
	Content             string        `json:"content,omitempty"`
	BaseURI             string        `json:"baseURI,omitempty"`
	Title               string        `json:"title,omitempty"`
	EmptyStyleRulesText []string      `json:"emptyStyleRulesText,omitempty"`
	CanvasData          []*CanvasData `json:"canvasData,omitempty"`
	Processed           bool          `json:"processed"`
	Timeout             bool          `json:"timeout,omitempty"`
}

// CanvasData is a rasterized canvas. A nil entry in a CanvasData slice
// stands for a canvas that could not be rasterized.
type CanvasData struct {
	DataURI string `json:"dataURI"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// Depth is the number of path segments of the frame's window id.
func (f FrameData) Depth() int {
	return Depth(f.WindowID)
}

func Depth(windowID string) int {
	if windowID == "" {
		return 0
	}
	return strings.Count(windowID, ".") + 1
}

func ChildID(parent string, index int) string {
	return parent + "." + strconv.Itoa(index)
}

type envelope struct {
	Method Method `json:"method"`
}

// Encode renders a message as prefixed text ready for a channel.
func Encode(msg Message) (string, error) {
	var body any
	switch m := msg.(type) {
	case InitRequest:
		body = struct {
			envelope
			InitRequest
		}{envelope{m.Method()}, m}
	case InitResponse:
		body = struct {
			envelope
			InitResponse
		}{envelope{m.Method()}, m}
	default:
		return "", fmt.Errorf("protocol: encode: unsupported message %T", msg)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("protocol: encode: %w", err)
	}
	return Prefix + separator + string(data), nil
}

// Decode parses prefixed channel text. Text without the prefix or with an
// unknown method yields ErrUnrelated.
func Decode(raw string) (Message, error) {
	body, ok := strings.CutPrefix(raw, Prefix+separator)
	if !ok {
		return nil, ErrUnrelated
	}
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	switch env.Method {
	case MethodInitRequest:
		var req InitRequest
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", env.Method, err)
		}
		return req, nil
	case MethodInitResponse:
		var resp InitResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", env.Method, err)
		}
		return resp, nil
	default:
		return nil, ErrUnrelated
	}
}
