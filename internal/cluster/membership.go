package cluster

import (
	"fmt"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// Membership wraps a gossip-based memberlist cluster and exposes the
// "reachable" view the redundancy map needs: the set of node names the
// local memberlist instance currently considers alive. It is the
// concrete implementation behind spec.md §6's "redundancy map reports
// reachability" contract. memberlist.Memberlist is already safe for
// concurrent use, so Membership adds no locking of its own.
type Membership struct {
	list   *memberlist.Memberlist
	logger *zap.Logger
}

// eventDelegate only logs; membership state itself is always read
// straight off the live memberlist.Memberlist, never mirrored.
type eventDelegate struct {
	logger *zap.Logger
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node) {
	d.logger.Info("cluster member joined", zap.String("node", n.Name), zap.String("addr", n.Address()))
}

func (d *eventDelegate) NotifyLeave(n *memberlist.Node) {
	d.logger.Warn("cluster member left", zap.String("node", n.Name), zap.String("addr", n.Address()))
}

func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) {
	d.logger.Debug("cluster member updated", zap.String("node", n.Name))
}

// NewMembership starts a memberlist instance bound to bindAddr:bindPort
// under the given node name, and joins the cluster through seeds (may
// be empty for the first node).
func NewMembership(nodeName, bindAddr string, bindPort int, seeds []string, logger *zap.Logger) (*Membership, error) {
	cfg := memberlist.DefaultLANConfig()
	cfg.Name = nodeName
	cfg.BindAddr = bindAddr
	cfg.BindPort = bindPort
	cfg.AdvertisePort = bindPort
	cfg.Events = &eventDelegate{logger: logger}
	cfg.LogOutput = zap.NewStdLog(logger.Named("memberlist")).Writer()

	list, err := memberlist.Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}

	m := &Membership{list: list, logger: logger}

	if len(seeds) > 0 {
		if _, err := list.Join(seeds); err != nil {
			return nil, fmt.Errorf("join cluster via seeds %v: %w", seeds, err)
		}
	}

	return m, nil
}

// Members returns the nodes memberlist currently lists as members
// (dead and departed nodes are left out, suspect nodes are included) —
// redundancy.go filters this further by node state for reachability.
func (m *Membership) Members() []*memberlist.Node {
	return m.list.Members()
}

// Self returns this node's own memberlist identity.
func (m *Membership) Self() *memberlist.Node {
	return m.list.LocalNode()
}

// Leave announces a graceful departure to the rest of the cluster
// before the process shuts down, per memberlist's usual pairing with
// Shutdown (called by the node process, not here).
func (m *Membership) Leave(timeout time.Duration) error {
	return m.list.Leave(timeout)
}

// Shutdown stops all memberlist background goroutines.
func (m *Membership) Shutdown() error {
	return m.list.Shutdown()
}
