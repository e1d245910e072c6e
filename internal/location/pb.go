package location

import (
	"context"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients must request, e.g. grpc.CallContentSubtype(CodecName).
const CodecName = "json"

const (
	serviceName = "ezmove.tracking.v1.DriverLocation"
	streamName  = "Stream"
	streamPath  = "/" + serviceName + "/" + streamName
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// LocationSample is one message of the driver stream.
type LocationSample struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	JobID     string   `json:"jobId,omitempty"`
}

// Ack summarises a finished stream.
type Ack struct {
	Accepted  int    `json:"accepted"`
	Tracked   int    `json:"tracked"`
	Rejected  int    `json:"rejected"`
	LastError string `json:"lastError,omitempty"`
}

// DriverLocationServer defines the gRPC contract.
type DriverLocationServer interface {
	Stream(DriverLocation_StreamServer) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DriverLocationServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    streamName,
		Handler:       _DriverLocation_Stream_Handler,
		ClientStreams: true,
	}},
}

// RegisterDriverLocationServer registers the service implementation.
func RegisterDriverLocationServer(s grpc.ServiceRegistrar, srv DriverLocationServer) {
	s.RegisterService(&serviceDesc, srv)
}

// DriverLocation_StreamServer is the server side of the client stream.
type DriverLocation_StreamServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*LocationSample, error)
}

func _DriverLocation_Stream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(DriverLocationServer).Stream(&streamServer{ServerStream: stream})
}

type streamServer struct {
	grpc.ServerStream
}

func (s *streamServer) SendAndClose(ack *Ack) error { return s.ServerStream.SendMsg(ack) }

func (s *streamServer) Recv() (*LocationSample, error) {
	msg := new(LocationSample)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// DriverLocation_StreamClient is the client side of the stream.
type DriverLocation_StreamClient interface {
	grpc.ClientStream
	Send(*LocationSample) error
	CloseAndRecv() (*Ack, error)
}

// Client opens driver location streams.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Stream starts a stream using the JSON codec.
func (c *Client) Stream(ctx context.Context, opts ...grpc.CallOption) (DriverLocation_StreamClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], streamPath, opts...)
	if err != nil {
		return nil, err
	}
	return &streamClient{ClientStream: stream}, nil
}

type streamClient struct {
	grpc.ClientStream
}

func (c *streamClient) Send(msg *LocationSample) error { return c.ClientStream.SendMsg(msg) }

func (c *streamClient) CloseAndRecv() (*Ack, error) {
	if err := c.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(Ack)
	if err := c.ClientStream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}
