// Package transport accepts vendor heartbeats over gRPC and HTTP.
package transport

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/servicebook/internal/geo"
	"github.com/example/servicebook/internal/presence"
)

const (
	serviceName      = "presence.Presence"
	streamName       = "StreamHeartbeats"
	streamMethodPath = "/" + serviceName + "/" + streamName
)

// HeartbeatMsg is one update on the stream.
type HeartbeatMsg struct {
	VendorID  string   `json:"vendorId"`
	Online    bool     `json:"online"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
}

func (m *HeartbeatMsg) heartbeat() presence.Heartbeat {
	hb := presence.Heartbeat{VendorID: m.VendorID, Online: m.Online, Address: m.Address}
	if m.Latitude != nil && m.Longitude != nil {
		hb.Location = &geo.Point{Lat: *m.Latitude, Lng: *m.Longitude}
	}
	return hb
}

// HeartbeatAck closes the stream.
type HeartbeatAck struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// PresenceServer defines the gRPC contract.
type PresenceServer interface {
	StreamHeartbeats(Presence_StreamHeartbeatsServer) error
}

// RegisterPresenceServer registers service implementation.
func RegisterPresenceServer(s grpc.ServiceRegistrar, srv PresenceServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*PresenceServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    streamName,
			Handler:       streamHeartbeatsHandler,
			ClientStreams: true,
		}},
	}, srv)
}

// Presence_StreamHeartbeatsServer is the server side of the client stream.
type Presence_StreamHeartbeatsServer interface {
	grpc.ServerStream
	SendAndClose(*HeartbeatAck) error
	Recv() (*HeartbeatMsg, error)
}

func streamHeartbeatsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PresenceServer).StreamHeartbeats(&heartbeatStreamServer{ServerStream: stream})
}

type heartbeatStreamServer struct {
	grpc.ServerStream
}

func (s *heartbeatStreamServer) SendAndClose(ack *HeartbeatAck) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *heartbeatStreamServer) Recv() (*HeartbeatMsg, error) {
	msg := new(HeartbeatMsg)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Server records every heartbeat received on a stream.
type Server struct {
	ingestor *presence.Ingestor
	logger   *zap.Logger
}

// NewServer constructs a server.
func NewServer(ingestor *presence.Ingestor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ingestor: ingestor, logger: logger.Named("grpc")}
}

// NewGRPCServer builds a grpc.Server speaking the JSON codec with the
// presence service registered.
func NewGRPCServer(srv PresenceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(JSONCodec{}))
	s := grpc.NewServer(opts...)
	RegisterPresenceServer(s, srv)
	return s
}

// StreamHeartbeats ingests heartbeats until the client closes the stream.
// Invalid heartbeats are counted and skipped.
func (s *Server) StreamHeartbeats(stream Presence_StreamHeartbeatsServer) error {
	var ack HeartbeatAck
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			return err
		}
		if _, err := s.ingestor.Record(stream.Context(), msg.heartbeat()); err != nil {
			ack.Rejected++
			if !errors.Is(err, presence.ErrInvalidHeartbeat) {
				s.logger.Warn("record heartbeat failed", zap.String("vendor_id", msg.VendorID), zap.Error(err))
			}
			continue
		}
		ack.Accepted++
	}
}

// HeartbeatClient opens heartbeat streams on conn.
type HeartbeatClient struct {
	conn grpc.ClientConnInterface
}

func NewHeartbeatClient(conn grpc.ClientConnInterface) *HeartbeatClient {
	return &HeartbeatClient{conn: conn}
}

// HeartbeatStream is the client side of a heartbeat stream.
type HeartbeatStream struct {
	grpc.ClientStream
}

func (c *HeartbeatClient) Stream(ctx context.Context) (*HeartbeatStream, error) {
	desc := &grpc.StreamDesc{StreamName: streamName, ClientStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, streamMethodPath, grpc.ForceCodec(JSONCodec{}))
	if err != nil {
		return nil, err
	}
	return &HeartbeatStream{ClientStream: stream}, nil
}

func (s *HeartbeatStream) Send(msg *HeartbeatMsg) error {
	return s.ClientStream.SendMsg(msg)
}

// CloseAndRecv half-closes the stream and waits for the server's ack.
func (s *HeartbeatStream) CloseAndRecv() (*HeartbeatAck, error) {
	if err := s.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(HeartbeatAck)
	if err := s.ClientStream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}
