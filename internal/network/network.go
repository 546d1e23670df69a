// Package network orchestrates a run of the simulation: it allocates
// ports, builds and starts all nodes, injects churn, and at the end of
// the configured lifetime terminates every node and emits its log
// snapshot (spec §4.2).
package network

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arianhaddadi/P2P-Network/internal/peering"
	"github.com/arianhaddadi/P2P-Network/internal/topology"
)

// Constants named in spec §6.
const (
	PortRangeLow  = 10000
	PortRangeHigh = 11000

	ChurnInterval = 10 * time.Second
	ChurnOutage   = 20 * time.Second

	SimulationLifetime = 5 * time.Minute
)

// Config holds the two user-facing inputs (spec §6) plus the test
// seams (clock, RNG, renderer) this simulator exposes so scenarios in
// spec §8 can run deterministically.
type Config struct {
	NumOfNodes int
	N          int

	Clock           clock.Clock
	Rand            *rand.Rand
	Renderer        topology.Renderer
	LossProbability float64
	Lifetime        time.Duration
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = clock.NewClock()
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if c.Renderer == nil {
		c.Renderer = topology.SVGRenderer{}
	}
	if c.LossProbability == 0 {
		c.LossProbability = peering.PacketLossProbability
	}
	if c.Lifetime == 0 {
		c.Lifetime = SimulationLifetime
	}
}

// Network is one simulation run.
type Network struct {
	cfg   Config
	log   *logrus.Entry
	nodes []*peering.Node

	mu sync.Mutex
}

// New constructs a Network; call Run to execute it.
func New(cfg Config) *Network {
	cfg.setDefaults()
	return &Network{
		cfg: cfg,
		log: logrus.WithField("component", "network"),
	}
}

// Run allocates ports, builds and starts numOfNodes nodes, injects
// churn for the configured lifetime, then terminates every node and
// writes its log/topology snapshot (spec §4.2). A port-allocation or
// bind failure aborts the run (spec §7); per-node churn and per-packet
// errors never do.
func (net *Network) Run(ctx context.Context) error {
	ports, err := net.allocatePorts()
	if err != nil {
		return errors.Wrap(err, "allocate node ports")
	}

	if err := net.createAndStartNodes(ports); err != nil {
		return errors.Wrap(err, "start nodes")
	}

	// The lifetime runs on the injected clock, like every other wait.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lifetime := net.cfg.Clock.NewTimer(net.cfg.Lifetime)
	defer lifetime.Stop()
	go func() {
		select {
		case <-lifetime.C():
			cancel()
		case <-runCtx.Done():
		}
	}()

	net.runChurn(runCtx)

	net.terminateAll()

	return net.emitLogs()
}

// allocatePorts samples NumOfNodes distinct ports from
// [PortRangeLow, PortRangeHigh] without replacement (spec §4.2, §6).
// Exhausting the range is fatal at startup (spec §7).
func (net *Network) allocatePorts() ([]peering.Port, error) {
	rangeSize := PortRangeHigh - PortRangeLow + 1
	if net.cfg.NumOfNodes > rangeSize {
		return nil, errors.Errorf("cannot allocate %d nodes from a port range of size %d", net.cfg.NumOfNodes, rangeSize)
	}

	perm := net.cfg.Rand.Perm(rangeSize)
	ports := make([]peering.Port, net.cfg.NumOfNodes)
	for i := 0; i < net.cfg.NumOfNodes; i++ {
		ports[i] = peering.Port(PortRangeLow + perm[i])
	}
	return ports, nil
}

// createAndStartNodes builds every node (each seeded with the full
// list of other ports, spec §4.2 step 1) and starts it concurrently
// (step 2). The fan-out uses errgroup so the first bind failure
// aborts the whole run instead of leaving a half-started network
// (spec §7).
func (net *Network) createAndStartNodes(ports []peering.Port) error {
	net.nodes = make([]*peering.Node, len(ports))

	g, _ := errgroup.WithContext(context.Background())
	for i, port := range ports {
		i, port := i, port
		others := otherPorts(ports, i)
		// net.cfg.Rand is not safe for concurrent use, and drawing the
		// seed inside the goroutine would also make it race against the
		// other launches; draw it here, on the single loop goroutine,
		// before the per-node goroutine is spawned.
		seed := net.cfg.Rand.Int63()

		g.Go(func() error {
			node, err := peering.NewNode(port, others, net.cfg.N,
				peering.WithClock(net.cfg.Clock),
				peering.WithRand(rand.New(rand.NewSource(seed))),
				peering.WithLossProbability(net.cfg.LossProbability),
				peering.WithLogger(net.log.WithField("node", int(port))),
			)
			if err != nil {
				return errors.Wrapf(err, "construct node on port %d", port)
			}
			net.nodes[i] = node
			node.Start()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, node := range net.nodes {
			if node != nil {
				node.Terminate()
			}
		}
		return err
	}
	return nil
}

func otherPorts(ports []peering.Port, skip int) []peering.Port {
	others := make([]peering.Port, 0, len(ports)-1)
	for j, p := range ports {
		if j != skip {
			others = append(others, p)
		}
	}
	return others
}

// runChurn disables a uniformly random node every ChurnInterval,
// re-enabling it ChurnOutage later, until ctx is done (at the end of
// the simulation lifetime) (spec §4.2 step 4). Overlapping churn
// is permitted: re-selecting an already-disabled node is a no-op stop,
// and the later resume timer wins on the disabled flag, exactly as
// spec §4.2 allows.
func (net *Network) runChurn(ctx context.Context) {
	ticker := net.cfg.Clock.NewTicker(ChurnInterval)
	defer ticker.Stop()

	var resumers sync.WaitGroup
	defer resumers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			net.disableRandomNode(ctx, &resumers)
		}
	}
}

func (net *Network) disableRandomNode(ctx context.Context, resumers *sync.WaitGroup) {
	net.mu.Lock()
	node := net.nodes[net.cfg.Rand.Intn(len(net.nodes))]
	net.mu.Unlock()

	node.Stop()
	net.log.WithField("port", int(node.Port())).Info("churn: node disabled")

	timer := net.cfg.Clock.NewTimer(ChurnOutage)
	resumers.Add(1)
	go func() {
		defer resumers.Done()
		select {
		case <-timer.C():
			node.Resume()
			net.log.WithField("port", int(node.Port())).Info("churn: node resumed")
		case <-ctx.Done():
			timer.Stop()
		}
	}()
}

// terminateAll ends every node concurrently.
func (net *Network) terminateAll() {
	var wg sync.WaitGroup
	for _, node := range net.nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			node.Terminate()
		}()
	}
	wg.Wait()
}

// emitLogs resets logs/ and writes every node's snapshot concurrently
// (spec §4.2 step 5, §6). Filesystem errors here are surfaced to the
// operator, never swallowed (spec §7).
func (net *Network) emitLogs() error {
	if err := topology.ResetLogsDir(); err != nil {
		return err
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, node := range net.nodes {
		node := node
		g.Go(func() error {
			export := node.Export()
			snap := topology.Build(export)
			return topology.Persist(int(node.Port()), snap, net.cfg.Renderer)
		})
	}
	return g.Wait()
}
