// Package location ingests streamed mechanic position reports and applies
// them to the mechanic's profile. Pricing still reads the profile location
// only at request creation.
package location

import (
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mechassist/internal/match/domain"
)

// Server implements the LocationServer interface on top of the store.
type Server struct {
	store  domain.Store
	logger *zap.Logger
}

// NewServer constructs a server.
func NewServer(store domain.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, logger: logger}
}

// StreamLocation consumes reports until the client closes the stream.
// Reports for unknown mechanics are dropped, not fatal to the stream.
func (s *Server) StreamLocation(stream Location_StreamLocationServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		mechanicID, err := uuid.Parse(msg.MechanicId)
		if err != nil {
			s.logger.Warn("bad mechanic id in location report", zap.String("mechanic_id", msg.MechanicId))
			continue
		}
		loc := domain.Coordinate{Lat: msg.Lat, Lng: msg.Lng}
		if err := s.store.UpdateMechanicLocation(stream.Context(), mechanicID, loc); err != nil {
			s.logger.Warn("location update dropped", zap.Stringer("mechanic_id", mechanicID), zap.Error(err))
		}
	}
}
