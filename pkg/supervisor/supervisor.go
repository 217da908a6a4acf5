// Package supervisor runs the two cooperating loops (unpack + run)
// that drive the node, and the control listener that can stop them.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shambakey1/vifinode/pkg/admission"
	"github.com/shambakey1/vifinode/pkg/audit"
	"github.com/shambakey1/vifinode/pkg/crosssite"
	"github.com/shambakey1/vifinode/pkg/egress"
	"github.com/shambakey1/vifinode/pkg/iteration"
	"github.com/shambakey1/vifinode/pkg/launcher"
	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/registry"
	"github.com/shambakey1/vifinode/pkg/resultactions"
	"github.com/shambakey1/vifinode/pkg/runtime"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
	"github.com/shambakey1/vifinode/pkg/spool"
	"github.com/shambakey1/vifinode/pkg/transfer"
	"github.com/shambakey1/vifinode/pkg/unpacker"
	"github.com/shambakey1/vifinode/pkg/waiter"
)

// Config wires a Supervisor to its collaborators.
type Config struct {
	Site     *siteconfig.Site
	Engine   runtime.ContainerEngine
	Registry *registry.Registry
	Audit    *audit.Logger

	// CrossSite, PutS3, PutSFTP are looked up per sink; a nil entry
	// means that sink kind is unconfigured and any matching sink is
	// reported as a SinkError rather than attempted.
	CrossSite func(domain string) crosssite.Client
	PutS3     func(ctx context.Context, bucket, key, path string) error
	PutSFTP   func(ctx context.Context, host string, port int, user, password, keyPath, remotePath, localPath string) error

	// UnpackInterval/RunInterval override the per-domain site values
	// when non-zero; used chiefly by tests to avoid real sleeps.
	UnpackInterval time.Duration
	RunInterval    time.Duration

	// ControlAddr, if non-empty, is a "tcp" or "unix" address the
	// supervisor listens on for newline-delimited control commands.
	ControlNetwork string
	ControlAddr    string
}

// Supervisor runs unpackLoop and runLoop over a shared stop flag.
type Supervisor struct {
	cfg      Config
	unpacker *unpacker.Unpacker
	store    manifest.Store

	stop     atomic.Bool
	wg       sync.WaitGroup
	listener net.Listener
}

// New builds a Supervisor from cfg.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		unpacker: &unpacker.Unpacker{Site: cfg.Site},
	}
}

// Start spawns the unpack and run loops, and the control listener if
// one is configured. It returns once the loops are running.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.ControlAddr != "" {
		network := s.cfg.ControlNetwork
		if network == "" {
			network = "tcp"
		}
		l, err := net.Listen(network, s.cfg.ControlAddr)
		if err != nil {
			return fmt.Errorf("listen on control address: %w", err)
		}
		s.listener = l
		s.wg.Add(1)
		go s.controlLoop()
	}

	s.wg.Add(2)
	go s.unpackLoop(ctx)
	go s.runLoop(ctx)
	return nil
}

// Stop requests shutdown and waits for both loops to return. In-flight
// waits on running services are not preempted (per §5); only the start
// of new work is prevented.
func (s *Supervisor) Stop() {
	s.end()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Supervisor) end() { s.stop.Store(true) }

func (s *Supervisor) controlLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.handleControlConn(conn)
	}
}

func (s *Supervisor) handleControlConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if scanner.Text() == "stop" {
			s.end()
			return
		}
	}
}

func (s *Supervisor) unpackLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.UnpackInterval
	if interval == 0 {
		interval = s.minDomainInterval(func(d *siteconfig.Domain) int { return d.UnpackInterval })
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.stop.Load() {
			return
		}
		if err := s.unpacker.Tick(ctx); err != nil {
			log.Error("unpack tick: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) runLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.RunInterval
	if interval == 0 {
		interval = s.minDomainInterval(func(d *siteconfig.Domain) int { return d.RunInterval })
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.stop.Load() {
			return
		}
		for domain := range s.cfg.Site.Domains {
			if s.stop.Load() {
				break
			}
			s.runDomainTick(ctx, domain)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) minDomainInterval(pick func(*siteconfig.Domain) int) time.Duration {
	min := 0
	for _, d := range s.cfg.Site.Domains {
		v := pick(d)
		if v > 0 && (min == 0 || v < min) {
			min = v
		}
	}
	if min == 0 {
		min = 5
	}
	return time.Duration(min) * time.Second
}

// runDomainTick processes every request currently in a domain's in/
// directory, in directory-listing (declaration) order.
func (s *Supervisor) runDomainTick(ctx context.Context, domain string) {
	inDir := spool.InDir(s.cfg.Site, domain)
	entries, err := os.ReadDir(inDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error(fmt.Sprintf("list %s: %v", inDir, err))
		}
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if s.stop.Load() {
			return
		}
		s.runRequest(ctx, domain, entry.Name())
	}
}

// runRequest drives one request through its services per the main
// scheduler loop contract. Each service attempts at most one iteration
// per call, following the original node's split between a single-pass
// run body and the sleep-wrapped loop that repeats it (see DESIGN.md);
// the Supervisor's ticker supplies the repetition across ticks.
func (s *Supervisor) runRequest(ctx context.Context, domain, requestName string) {
	requestDir := filepath.Join(spool.InDir(s.cfg.Site, domain), requestName)

	m, err := s.store.Load(requestDir)
	if err != nil {
		log.Error(fmt.Sprintf("load manifest for %s/%s: %v", domain, requestName, err))
		return
	}

	stopMarker := spool.StopMarkerPath(requestDir)
	resultsDir := spool.ResultsDir(s.cfg.Site, requestDir)
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		log.Error(fmt.Sprintf("create results dir for %s/%s: %v", domain, requestName, err))
		return
	}

	requestFailed := false

	for _, svcName := range m.ServiceOrder {
		svc := m.Services[svcName]

		if !iteration.ShouldIterate(&svc.Iterative, stopMarker) {
			continue
		}

		m.CurServ = manifest.SetService(svcName)
		if err := s.store.Save(requestDir, m); err != nil {
			log.Error(fmt.Sprintf("persist curserv for %s/%s: %v", domain, requestName, err))
			requestFailed = true
			break
		}
		s.recordOK(domain, requestName, svcName, svc.Iterative.CurIter, "curserv set", "CurServSet")

		if failed := s.runServiceIteration(ctx, domain, requestDir, requestName, resultsDir, stopMarker, svcName, svc, m); failed {
			requestFailed = true
			break
		}
	}

	s.finalizeRequest(domain, requestName, requestDir, m, stopMarker, requestFailed)
}

func (s *Supervisor) runServiceIteration(
	ctx context.Context,
	domain, requestDir, requestName, resultsDir, stopMarker string,
	svcName string, svc *manifest.Service, m *manifest.Manifest,
) (failed bool) {
	decision, err := admission.Admit(s.cfg.Site, domain, requestDir, m, svcName)
	if err != nil {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "admission failed: "+err.Error(), "AdmissionError")
		return true
	}
	if decision.Deferred {
		return false
	}

	serviceID, err := launcher.Launch(ctx, s.cfg.Engine, s.cfg.Registry, s.cfg.Site, domain, requestDir, requestName, svcName, svc, decision)
	if err != nil {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "launch failed: "+err.Error(), "LaunchError")
		return true
	}

	ok, err := waiter.Wait(ctx, s.cfg.Engine, serviceID, decision.Replicas, time.Duration(decision.TTLSecs)*time.Second)
	if err != nil {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "wait failed: "+err.Error(), "Timeout")
		return true
	}
	if !ok {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "service timed out", "Timeout")
		return true
	}

	if err := resultactions.Apply(requestDir, resultsDir, svc.Results); err != nil {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "result actions failed: "+err.Error(), "IOError")
		return true
	}
	if err := resultactions.Remove(requestDir, svc.ToRemove); err != nil {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "toremove failed: "+err.Error(), "IOError")
		return true
	}

	// cur_iter is incremented and persisted after the result actions and
	// removals, and before sink egress below, so the transfer conditions
	// are evaluated against the post-increment value.
	svc.Iterative.CurIter++
	if err := s.store.Save(requestDir, m); err != nil {
		s.record(domain, requestName, svcName, svc.Iterative.CurIter, "persist cur_iter failed: "+err.Error(), "IOError")
		return true
	}

	_, stopErr := os.Stat(stopMarker)
	state := transfer.IterationState{
		CurIter:    svc.Iterative.CurIter,
		MaxRep:     svc.Iterative.MaxRep.Value,
		MaxRepInf:  svc.Iterative.MaxRep.Inf,
		StopMarker: stopErr == nil,
	}

	deps := egress.Deps{
		ResultsDir: resultsDir,
		StagingDir: requestDir,
		PutS3:      s.cfg.PutS3,
		PutSFTP:    s.cfg.PutSFTP,
	}
	if s.cfg.CrossSite != nil {
		deps.CrossSite = s.cfg.CrossSite(domain)
	}
	// Egress is bounded by the service's clamped TTL; an expired
	// deadline surfaces as a failure of the sink that was in flight.
	egressCtx, cancelEgress := context.WithTimeout(ctx, time.Duration(decision.TTLSecs)*time.Second)
	sinkResults := egress.Run(egressCtx, svc, state, deps)
	cancelEgress()
	for _, r := range sinkResults {
		if r.Err != nil {
			s.record(domain, requestName, svcName, svc.Iterative.CurIter, fmt.Sprintf("sink %s failed: %v", r.Sink, r.Err), "SinkError")
		}
	}

	domainPolicy, _ := s.cfg.Site.Domain(domain)
	if domainPolicy == nil || !domainPolicy.KeepAfterComplete() {
		if err := s.cfg.Engine.DeleteService(ctx, serviceID); err != nil {
			log.Warn(fmt.Sprintf("delete service %s: %v", serviceID, err))
		}
	}
	if s.cfg.Registry != nil {
		if err := s.cfg.Registry.ReleaseName(serviceID); err != nil {
			log.Warn(fmt.Sprintf("release name %s: %v", serviceID, err))
		}
	}

	s.recordOK(domain, requestName, svcName, svc.Iterative.CurIter, "iteration completed", "IterationDone")
	return false
}

func (s *Supervisor) finalizeRequest(domain, requestName, requestDir string, m *manifest.Manifest, stopMarker string, requestFailed bool) {
	stopExists := func(string) bool {
		_, err := os.Stat(stopMarker)
		return err == nil
	}

	if requestFailed {
		s.moveRequest(domain, requestName, requestDir, spool.FailedDir(s.cfg.Site, domain))
		return
	}
	if m.AllDone(stopExists) {
		m.CurServ = manifest.PostServices()
		if err := s.store.Save(requestDir, m); err != nil {
			log.Error(fmt.Sprintf("persist post_services for %s/%s: %v", domain, requestName, err))
			s.moveRequest(domain, requestName, requestDir, spool.FailedDir(s.cfg.Site, domain))
			return
		}
		s.moveRequest(domain, requestName, requestDir, spool.FinishedDir(s.cfg.Site, domain))
		s.recordOK(domain, requestName, "", 0, "request finished", "RequestFinished")
	}
	// else: some service is still pending (e.g. deferred on a
	// predecessor); leave the request in in/ for the next tick.
}

func (s *Supervisor) moveRequest(domain, requestName, requestDir, destBase string) {
	if err := os.MkdirAll(destBase, 0o755); err != nil {
		log.Error(fmt.Sprintf("create %s: %v", destBase, err))
		return
	}
	dest := filepath.Join(destBase, requestName)
	if err := os.Rename(requestDir, dest); err != nil {
		log.Error(fmt.Sprintf("move %s -> %s: %v", requestDir, dest, err))
	}
}

// record emits an audit entry for a failed transition and logs it at
// error level. Every caller except a failed sink delivery then aborts
// the request.
func (s *Supervisor) record(domain, requestName, serviceName string, iter int, event, kind string) {
	log.Error(fmt.Sprintf("%s/%s/%s: %s", domain, requestName, serviceName, event))
	if s.cfg.Audit != nil {
		s.cfg.Audit.Record(domain, requestName, serviceName, iter, event, kind, time.Now().Unix())
	}
}

// recordOK emits an audit entry for a successful transition — C12
// requires a structured record of every transition, not just failures.
func (s *Supervisor) recordOK(domain, requestName, serviceName string, iter int, event, kind string) {
	if s.cfg.Audit != nil {
		s.cfg.Audit.Record(domain, requestName, serviceName, iter, event, kind, time.Now().Unix())
	}
}
