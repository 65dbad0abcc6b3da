package cluster

// ReplicationFactor is the configured number of replicas per object.
// spec.md leaves W to be supplied explicitly on every Replicate call;
// this is the convenience a node's config layer uses to derive a
// default W from its replication factor, same role it played in the
// teacher's replicator.
type ReplicationFactor int

const (
	RF1 ReplicationFactor = 1
	RF2 ReplicationFactor = 2
	RF3 ReplicationFactor = 3
	RF4 ReplicationFactor = 4
	RF5 ReplicationFactor = 5
)

// WriteQuorum returns the default majority write quorum for this
// replication factor: floor(N/2)+1.
func (r ReplicationFactor) WriteQuorum() int {
	return int(r)/2 + 1
}
