package grpc

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/parsascontentcorner/discordlitegateway/internal/shard"
)

// ServiceName is the health service name reporting shard readiness.
const ServiceName = "discordlitegateway.Gateway"

// Readiness is the shard set whose readiness the health service reports.
// *shard.Manager implements it.
type Readiness interface {
	Ready() bool
	Subscribe(events ...string) *shard.Subscription
	Unsubscribe(id uuid.UUID) bool
}

// SetServing sets the status of ServiceName and of the whole server.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// TrackReadiness keeps the health status in step with the shards until ctx
// is done or the subscription is closed. It blocks.
func (s *Server) TrackReadiness(ctx context.Context, shards Readiness) {
	sub := shards.Subscribe(shard.EventShardStateChanged, shard.EventShardDisconnected)
	defer shards.Unsubscribe(sub.ID)

	serving := shards.Ready()
	s.SetServing(serving)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C:
			if !ok {
				s.SetServing(false)
				return
			}
			if ready := shards.Ready(); ready != serving {
				serving = ready
				s.SetServing(serving)
				s.logger.Info("readiness changed", zap.Bool("serving", serving))
			}
		}
	}
}
