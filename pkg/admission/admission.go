// Package admission checks a service against site policy before it is
// launched: image allow-list, data-mount modes, input presence,
// predecessor completion, and replica/TTL clamping.
package admission

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
	"github.com/shambakey1/vifinode/pkg/spool"
	"github.com/shambakey1/vifinode/pkg/vifierrors"
)

// Decision is the outcome of a successful admission pass: the clamped
// resources the launcher must use, or a Deferred sentinel meaning the
// caller should retry this service on the next scheduler tick.
type Decision struct {
	Deferred bool
	Waiting  string // predecessor name, set only when Deferred

	Replicas int
	TTLSecs  int
}

// Admit runs the six ordered checks of the admission contract against
// one service within a manifest. requestDir is the root of the
// request directory, used for input-file and stop-marker checks.
func Admit(site *siteconfig.Site, domainName, requestDir string, m *manifest.Manifest, serviceName string) (Decision, error) {
	domain, ok := site.Domain(domainName)
	if !ok {
		return Decision{}, &vifierrors.Bug{Msg: fmt.Sprintf("unknown domain %s", domainName)}
	}
	svc, ok := m.Service(serviceName)
	if !ok {
		return Decision{}, &vifierrors.Bug{Msg: fmt.Sprintf("unknown service %s", serviceName)}
	}

	// 1. Image check.
	if !domain.Docker.Images.Allows(svc.Image) {
		return Decision{}, &vifierrors.AdmissionError{
			Service: serviceName,
			Reason:  fmt.Sprintf("image %s not in domain %s allow-list", svc.Image, domainName),
		}
	}

	// 2. Data-mode check. Current policy: always accept; this is the
	// reserved enforcement point for per-mode restrictions.
	for dataName := range svc.Data {
		if _, ok := domain.DataDirs[dataName]; !ok {
			log.Warn(fmt.Sprintf("service %s references unknown data source %s in domain %s", serviceName, dataName, domainName))
		}
	}

	// 3. Input check.
	for path, kind := range svc.Dependencies.Files {
		full := filepath.Join(requestDir, path)
		info, err := os.Stat(full)
		if err != nil {
			return Decision{}, &vifierrors.AdmissionError{
				Service: serviceName,
				Reason:  fmt.Sprintf("required input %s missing", path),
				Err:     err,
			}
		}
		if kind == "d" && !info.IsDir() {
			return Decision{}, &vifierrors.AdmissionError{
				Service: serviceName,
				Reason:  fmt.Sprintf("required input %s expected to be a directory", path),
			}
		}
		if kind == "f" && info.IsDir() {
			return Decision{}, &vifierrors.AdmissionError{
				Service: serviceName,
				Reason:  fmt.Sprintf("required input %s expected to be a regular file", path),
			}
		}
	}

	// 4. Service precedence.
	stopMarker := spool.StopMarkerPath(requestDir)
	for _, pred := range svc.Dependencies.Ser {
		predSvc, ok := m.Service(pred)
		if !ok {
			return Decision{}, &vifierrors.Bug{Msg: fmt.Sprintf("service %s depends on unknown service %s", serviceName, pred)}
		}
		if predecessorDone(predSvc, stopMarker) {
			continue
		}
		return Decision{Deferred: true, Waiting: pred}, nil
	}

	// 5. Function precedence. Reserved extension point; default accept.

	// 6. Capacity clamp.
	replicas := domain.Docker.Replica.Resolve(svc.Tasks, 1)
	if replicas != svc.Tasks {
		log.Warn(fmt.Sprintf("service %s: clamped replicas %d -> %d per domain %s cap", serviceName, svc.Tasks, replicas, domainName))
	}
	ttl := domain.Docker.TTL.Resolve(svc.SerCheckThr, 60)
	if ttl != svc.SerCheckThr {
		log.Warn(fmt.Sprintf("service %s: clamped ttl %d -> %d per domain %s cap", serviceName, svc.SerCheckThr, ttl, domainName))
	}

	return Decision{Replicas: replicas, TTLSecs: ttl}, nil
}

func predecessorDone(svc *manifest.Service, stopMarkerPath string) bool {
	if svc.Iterative.MaxRep.Inf {
		_, err := os.Stat(stopMarkerPath)
		return err == nil
	}
	return svc.Iterative.CurIter >= svc.Iterative.MaxRep.Value
}
