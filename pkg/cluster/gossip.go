package cluster

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog"

	"github.com/cuemby/compactor/pkg/config"
	"github.com/cuemby/compactor/pkg/log"
	"github.com/cuemby/compactor/pkg/types"
)

// GossipMembership discovers live storage nodes through a memberlist
// cluster. Storage node agents advertise their serving address (host:port)
// as node metadata; members without metadata are identified by name. The
// compactor's own member is never reported.
type GossipMembership struct {
	list   *memberlist.Memberlist
	logger zerolog.Logger
}

// NewGossipMembership joins the gossip cluster described by cfg
func NewGossipMembership(cfg config.GossipConfig) (*GossipMembership, error) {
	g := &GossipMembership{
		logger: log.WithComponent("gossip"),
	}

	mlConfig := memberlist.DefaultLANConfig()
	if cfg.NodeName != "" {
		mlConfig.Name = cfg.NodeName
	}
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Events = &gossipEvents{logger: g.logger}
	mlConfig.LogOutput = g.logger.Level(zerolog.WarnLevel)

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	g.list = ml

	if len(cfg.Join) > 0 {
		n, err := ml.Join(cfg.Join)
		if err != nil {
			g.logger.Warn().Err(err).Int("joined", n).Msg("Failed to join some gossip seeds")
		}
	}

	return g, nil
}

// ListLiveNodes returns the serving address of every alive remote member
func (g *GossipMembership) ListLiveNodes(ctx context.Context) ([]types.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	local := g.list.LocalNode().Name
	var nodes []types.NodeID
	for _, m := range g.list.Members() {
		if m.Name == local || m.State != memberlist.StateAlive {
			continue
		}
		nodes = append(nodes, memberNodeID(m))
	}
	slices.Sort(nodes)
	return nodes, nil
}

// Shutdown leaves the gossip cluster
func (g *GossipMembership) Shutdown() error {
	if err := g.list.Leave(0); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to leave gossip cluster")
	}
	return g.list.Shutdown()
}

func memberNodeID(m *memberlist.Node) types.NodeID {
	if len(m.Meta) > 0 {
		return types.NodeID(m.Meta)
	}
	return types.NodeID(m.Name)
}

type gossipEvents struct {
	logger zerolog.Logger
}

func (e *gossipEvents) NotifyJoin(n *memberlist.Node) {
	e.logger.Info().Str("member", n.Name).Str("node_id", string(memberNodeID(n))).Msg("Gossip member joined")
}

func (e *gossipEvents) NotifyLeave(n *memberlist.Node) {
	e.logger.Info().Str("member", n.Name).Str("node_id", string(memberNodeID(n))).Msg("Gossip member left")
}

func (e *gossipEvents) NotifyUpdate(n *memberlist.Node) {
	e.logger.Debug().Str("member", n.Name).Msg("Gossip member updated")
}
