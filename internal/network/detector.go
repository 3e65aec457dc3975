// Package network maintains a graph of users linked through shared
// devices, IP addresses and payment instruments, and derives fraud
// rings and per-user network risk from it.
package network

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/deokhwajeong/ott-compliance-events-pipeline/pkg/models"
)

// Node type prefixes used in the graph
const (
	prefixUser    = "user:"
	prefixDevice  = "device:"
	prefixIP      = "ip:"
	prefixPayment = "payment:"
)

// Ring types emitted by DetectRings
const (
	RingTypeDevice  = "device_sharing"
	RingTypeIP      = "ip_sharing"
	RingTypePayment = "payment_sharing"
)

// Statistics summarizes the network topology
type Statistics struct {
	TotalNodes       int       `json:"total_nodes"`
	TotalEdges       int       `json:"total_edges"`
	Components       int       `json:"number_of_components"`
	AverageDegree    float64   `json:"average_degree"`
	DetectedRings    int       `json:"detected_fraud_rings"`
	UsersInRings     int       `json:"users_in_fraud_rings"`
	LastRingDetected time.Time `json:"last_ring_sweep,omitempty"`
}

// Detector is the in-memory fraud network. The graph grows
// monotonically; PruneBefore exists but is not scheduled, preserving
// the reference behavior of never expiring nodes.
type Detector struct {
	mu     sync.RWMutex
	logger *zap.Logger

	adjacency map[string]map[string]struct{}
	lastSeen  map[string]time.Time

	deviceUsers  map[string]map[string]struct{}
	ipUsers      map[string]map[string]struct{}
	paymentUsers map[string]map[string]struct{}

	// Membership snapshot from the latest ring sweep
	ringMembers map[string]struct{}
	ringCount   int
	lastSweep   time.Time
}

// NewDetector creates an empty fraud network detector
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{
		logger:       logger.Named("network"),
		adjacency:    make(map[string]map[string]struct{}),
		lastSeen:     make(map[string]time.Time),
		deviceUsers:  make(map[string]map[string]struct{}),
		ipUsers:      make(map[string]map[string]struct{}),
		paymentUsers: make(map[string]map[string]struct{}),
		ringMembers:  make(map[string]struct{}),
	}
}

// AddEvent links a user to the device, IP and payment instrument seen
// on an event. Empty attributes are skipped; missing nodes are created
// on the fly.
func (d *Detector) AddEvent(userID, deviceID, ipAddress, paymentMethod string) {
	if userID == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	userNode := prefixUser + userID
	d.touch(userNode, now)

	if deviceID != "" {
		d.connect(userNode, prefixDevice+deviceID, now)
		d.index(d.deviceUsers, deviceID, userID)
	}
	if ipAddress != "" {
		d.connect(userNode, prefixIP+ipAddress, now)
		d.index(d.ipUsers, ipAddress, userID)
	}
	if paymentMethod != "" {
		d.connect(userNode, prefixPayment+paymentMethod, now)
		d.index(d.paymentUsers, paymentMethod, userID)
	}
}

// DetectRings scans every connection point for user sets of at least
// minRingSize and returns them as fraud rings. Ring membership is
// remembered for subsequent UserNetworkRisk calls.
func (d *Detector) DetectRings(minRingSize int) []models.FraudRing {
	if minRingSize < 2 {
		minRingSize = 2
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var rings []models.FraudRing
	members := make(map[string]struct{})

	collect := func(ringType string, index map[string]map[string]struct{}) {
		for connection, users := range index {
			if len(users) < minRingSize {
				continue
			}
			ring := models.FraudRing{
				RingType:   ringType,
				Connection: connection,
				Users:      sortedKeys(users),
				Size:       len(users),
				RiskScore:  ringRiskScore(len(users), minRingSize),
			}
			rings = append(rings, ring)
			for user := range users {
				members[user] = struct{}{}
			}
		}
	}

	collect(RingTypeDevice, d.deviceUsers)
	collect(RingTypeIP, d.ipUsers)
	collect(RingTypePayment, d.paymentUsers)

	sort.Slice(rings, func(i, j int) bool {
		if rings[i].RingType != rings[j].RingType {
			return rings[i].RingType < rings[j].RingType
		}
		return rings[i].Connection < rings[j].Connection
	})

	d.ringMembers = members
	d.ringCount = len(rings)
	d.lastSweep = time.Now()

	if len(rings) > 0 {
		d.logger.Info("fraud ring sweep completed",
			zap.Int("rings", len(rings)),
			zap.Int("users", len(members)),
		)
	}

	return rings
}

// UserNetworkRisk scores a user by their position in the network:
// ring membership, degree centrality and local clustering, capped at
// 1.0. Up to ten users reachable through shared device/IP connectors
// are reported as connected suspicious users.
func (d *Detector) UserNetworkRisk(userID string, maxHops int) models.NetworkRisk {
	risk := models.NetworkRisk{UserID: userID}
	if maxHops <= 0 {
		maxHops = 2
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	userNode := prefixUser + userID
	if _, ok := d.adjacency[userNode]; !ok {
		return risk
	}

	ego := d.egoSubgraph(userNode, maxHops)
	delete(ego, userNode)

	if _, inRing := d.ringMembers[userID]; inRing {
		risk.RiskFactors = append(risk.RiskFactors, "member_of_fraud_ring")
		risk.RiskScore += 0.8
	}

	if centrality := d.degreeCentrality(userNode); centrality > 0.1 {
		risk.RiskFactors = append(risk.RiskFactors, "high_network_centrality")
		risk.RiskScore += centrality * 0.3
	}

	if clustering := d.clusteringCoefficient(userNode); clustering > 0.5 {
		risk.RiskFactors = append(risk.RiskFactors, "high_network_clustering")
		risk.RiskScore += 0.2
	}

	if risk.RiskScore > 1.0 {
		risk.RiskScore = 1.0
	}

	connected := make(map[string]struct{})
	for node := range ego {
		if !strings.HasPrefix(node, prefixDevice) && !strings.HasPrefix(node, prefixIP) {
			continue
		}
		for neighbor := range d.adjacency[node] {
			if strings.HasPrefix(neighbor, prefixUser) && neighbor != userNode {
				connected[strings.TrimPrefix(neighbor, prefixUser)] = struct{}{}
			}
		}
	}
	suspicious := sortedKeys(connected)
	if len(suspicious) > 10 {
		suspicious = suspicious[:10]
	}
	risk.ConnectedSuspiciousUsers = suspicious

	return risk
}

// Stats returns topology statistics for observability endpoints
func (d *Detector) Stats() Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Statistics{
		TotalNodes:       len(d.adjacency),
		DetectedRings:    d.ringCount,
		UsersInRings:     len(d.ringMembers),
		LastRingDetected: d.lastSweep,
	}

	edges := 0
	for _, neighbors := range d.adjacency {
		edges += len(neighbors)
	}
	stats.TotalEdges = edges / 2
	if stats.TotalNodes > 0 {
		stats.AverageDegree = float64(edges) / float64(stats.TotalNodes)
	}
	stats.Components = d.componentCount()

	return stats
}

// PruneBefore removes nodes not seen since the cutoff. Not scheduled by
// default; the reference system never expires the graph.
func (d *Detector) PruneBefore(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for node, seen := range d.lastSeen {
		if !seen.Before(cutoff) {
			continue
		}
		for neighbor := range d.adjacency[node] {
			delete(d.adjacency[neighbor], node)
		}
		delete(d.adjacency, node)
		delete(d.lastSeen, node)
		removed++
	}
	return removed
}

func (d *Detector) touch(node string, at time.Time) {
	if _, ok := d.adjacency[node]; !ok {
		d.adjacency[node] = make(map[string]struct{})
	}
	d.lastSeen[node] = at
}

func (d *Detector) connect(a, b string, at time.Time) {
	d.touch(a, at)
	d.touch(b, at)
	d.adjacency[a][b] = struct{}{}
	d.adjacency[b][a] = struct{}{}
}

func (d *Detector) index(index map[string]map[string]struct{}, key, userID string) {
	if _, ok := index[key]; !ok {
		index[key] = make(map[string]struct{})
	}
	index[key][userID] = struct{}{}
}

// egoSubgraph returns all nodes within maxHops of the start node
func (d *Detector) egoSubgraph(start string, maxHops int) map[string]struct{} {
	visited := map[string]struct{}{start: {}}
	frontier := []string{start}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			for neighbor := range d.adjacency[node] {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return visited
}

func (d *Detector) degreeCentrality(node string) float64 {
	n := len(d.adjacency)
	if n <= 1 {
		return 0
	}
	return float64(len(d.adjacency[node])) / float64(n-1)
}

func (d *Detector) clusteringCoefficient(node string) float64 {
	neighbors := sortedKeys(d.adjacency[node])
	k := len(neighbors)
	if k < 2 {
		return 0
	}
	links := 0
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if _, ok := d.adjacency[neighbors[i]][neighbors[j]]; ok {
				links++
			}
		}
	}
	return 2 * float64(links) / float64(k*(k-1))
}

func (d *Detector) componentCount() int {
	seen := make(map[string]struct{}, len(d.adjacency))
	components := 0
	for node := range d.adjacency {
		if _, ok := seen[node]; ok {
			continue
		}
		components++
		stack := []string{node}
		seen[node] = struct{}{}
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for neighbor := range d.adjacency[current] {
				if _, ok := seen[neighbor]; !ok {
					seen[neighbor] = struct{}{}
					stack = append(stack, neighbor)
				}
			}
		}
	}
	return components
}

func ringRiskScore(size, minRingSize int) float64 {
	score := float64(size-minRingSize) / 10
	if score > 1.0 {
		return 1.0
	}
	return score
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
