package livechannel

import (
	"encoding/json"
	"fmt"

	"github.com/yndnr/querydeck-go/internal/core/domain"
)

// CommandType is the discriminator of an outbound command.
type CommandType string

const (
	CommandStartStream  CommandType = "start_stream"
	CommandStopStream   CommandType = "stop_stream"
	CommandExecuteQuery CommandType = "execute_query"
	CommandPing         CommandType = "ping"
)

// Command is an outbound instruction to the gateway.
type Command struct {
	Type  CommandType `json:"type"`
	Query string      `json:"query,omitempty"`
}

// StartStream asks the gateway to begin periodic real-time data.
func StartStream() Command { return Command{Type: CommandStartStream} }

// StopStream stops the real-time data stream.
func StopStream() Command { return Command{Type: CommandStopStream} }

// ExecuteQuery runs query against the connected database.
func ExecuteQuery(query string) Command {
	return Command{Type: CommandExecuteQuery, Query: query}
}

// Ping checks channel liveness; the gateway answers with Pong.
func Ping() Command { return Command{Type: CommandPing} }

// Valid reports whether c is one of the known commands.
func (c Command) Valid() bool {
	switch c.Type {
	case CommandStartStream, CommandStopStream, CommandPing:
		return true
	case CommandExecuteQuery:
		return c.Query != ""
	default:
		return false
	}
}

// DecodeCommand parses an inbound command on the gateway side. Unknown
// types are returned as-is so the caller can echo them.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, domain.ErrBadRequest.WithCause(err)
	}
	return c, nil
}

// MessageType is the discriminator of an inbound message.
type MessageType string

const (
	TypeRealTimeData    MessageType = "real_time_data"
	TypeQueryResult     MessageType = "query_result"
	TypeAnalyticsUpdate MessageType = "analytics_update"
	TypeStreamStarted   MessageType = "stream_started"
	TypeStreamStopped   MessageType = "stream_stopped"
	TypePong            MessageType = "pong"
	TypeError           MessageType = "error"
	TypeEcho            MessageType = "echo"
)

// Per-type topics live under this prefix, apart from the lifecycle topics.
const typeTopicPrefix = "type:"

// Topic returns the subscription topic for messages of type t.
func (t MessageType) Topic() Topic {
	if t == "" {
		return ""
	}
	return Topic(typeTopicPrefix + string(t))
}

// Message is one inbound message. The concrete type is one of the variants
// below, or Unknown.
type Message interface {
	Type() MessageType
}

// Metrics is the payload of a real-time data sample.
type Metrics struct {
	ActiveUsers  int     `json:"active_users"`
	Transactions int     `json:"transactions"`
	Revenue      float64 `json:"revenue"`
	CPUUsage     float64 `json:"cpu_usage"`
	MemoryUsage  float64 `json:"memory_usage"`
}

type RealTimeData struct {
	Timestamp string  `json:"timestamp"`
	Data      Metrics `json:"data"`
}

type QueryResult struct {
	Timestamp string          `json:"timestamp"`
	Result    json.RawMessage `json:"result"`
}

type AnalyticsUpdate struct {
	Timestamp string          `json:"timestamp"`
	Analytics json.RawMessage `json:"analytics"`
}

type StreamStarted struct {
	Message string `json:"message"`
}

type StreamStopped struct {
	Message string `json:"message"`
}

type Pong struct {
	Timestamp string `json:"timestamp"`
}

// ErrorMessage is a gateway-reported failure for a previous command.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Echo returns a command the gateway did not recognise.
type Echo struct {
	OriginalMessage json.RawMessage `json:"original_message"`
}

// Unknown is any message whose type is not listed above.
type Unknown struct {
	Kind MessageType     `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (RealTimeData) Type() MessageType    { return TypeRealTimeData }
func (QueryResult) Type() MessageType     { return TypeQueryResult }
func (AnalyticsUpdate) Type() MessageType { return TypeAnalyticsUpdate }
func (StreamStarted) Type() MessageType   { return TypeStreamStarted }
func (StreamStopped) Type() MessageType   { return TypeStreamStopped }
func (Pong) Type() MessageType            { return TypePong }
func (ErrorMessage) Type() MessageType    { return TypeError }
func (Echo) Type() MessageType            { return TypeEcho }
func (u Unknown) Type() MessageType       { return u.Kind }

// decoders maps each known type to a constructor for its variant.
var decoders = map[MessageType]func([]byte) (Message, error){
	TypeRealTimeData:    decodeAs[RealTimeData],
	TypeQueryResult:     decodeAs[QueryResult],
	TypeAnalyticsUpdate: decodeAs[AnalyticsUpdate],
	TypeStreamStarted:   decodeAs[StreamStarted],
	TypeStreamStopped:   decodeAs[StreamStopped],
	TypePong:            decodeAs[Pong],
	TypeError:           decodeAs[ErrorMessage],
	TypeEcho:            decodeAs[Echo],
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode parses one inbound frame. Well-formed JSON with an unlisted type
// decodes to Unknown.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, domain.ErrBadRequest.WithDetails("inbound frame is not a JSON object").WithCause(err)
	}
	dec, ok := decoders[head.Type]
	if !ok {
		return Unknown{Kind: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	m, err := dec(data)
	if err != nil {
		return nil, domain.ErrBadRequest.WithDetails(fmt.Sprintf("malformed %s message", head.Type)).WithCause(err)
	}
	return m, nil
}

// Encode serializes m with its type discriminator.
func Encode(m Message) ([]byte, error) {
	if u, ok := m.(Unknown); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(m.Type())
	return json.Marshal(fields)
}
