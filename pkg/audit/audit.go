// Package audit records every request/service/iteration transition:
// a per-domain append-only text log, a structured per-request YAML
// log, a local registry mirror, and an optional middleware POST.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/registry"
	"github.com/shambakey1/vifinode/pkg/siteconfig"
)

// Record is one structured transition, written to the per-request YAML
// log and, if configured, POSTed to the middleware.
type Record struct {
	Request   string `yaml:"request" json:"request"`
	Domain    string `yaml:"domain" json:"domain"`
	Service   string `yaml:"service,omitempty" json:"service,omitempty"`
	Iteration int    `yaml:"iteration,omitempty" json:"iteration,omitempty"`
	Event     string `yaml:"event" json:"event"`
	Kind      string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Timestamp int64  `yaml:"timestamp" json:"timestamp"`
}

// Logger is the per-node audit sink.
type Logger struct {
	site   *siteconfig.Site
	reg    *registry.Registry
	client *http.Client
}

// NewLogger builds a Logger over the site's configured log paths and
// middleware endpoint, mirroring records into reg for local querying.
func NewLogger(site *siteconfig.Site, reg *registry.Registry) *Logger {
	return &Logger{site: site, reg: reg, client: &http.Client{Timeout: 5 * time.Second}}
}

// Record appends the event to the domain's out.log, writes a
// structured YAML document to the request's audit file, mirrors it
// into the registry, and — when configured — POSTs it to the
// middleware. A middleware failure is logged and never blocks
// progress.
func (l *Logger) Record(domain, requestName, serviceName string, iteration int, event, kind string, now int64) {
	rec := Record{
		Request:   requestName,
		Domain:    domain,
		Service:   serviceName,
		Iteration: iteration,
		Event:     event,
		Kind:      kind,
		Timestamp: now,
	}

	if err := l.appendLine(domain, rec); err != nil {
		log.Warn("audit out.log append failed: " + err.Error())
	}
	if err := l.appendStructured(domain, requestName, rec); err != nil {
		log.Warn("audit structured log append failed: " + err.Error())
	}
	if l.reg != nil {
		if err := l.reg.PutAuditRecord(registry.AuditRecord{
			Request: rec.Request, Domain: rec.Domain, Service: rec.Service,
			Iteration: rec.Iteration, Event: rec.Event, Kind: rec.Kind, Timestamp: rec.Timestamp,
		}); err != nil {
			log.Warn("audit registry mirror failed: " + err.Error())
		}
	}
	l.postMiddleware(rec)
}

func (l *Logger) appendLine(domain string, rec Record) error {
	dir := filepath.Join(l.site.RootPath, l.site.LogDirName, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "out.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d:%s\n", rec.Timestamp, rec.Event)
	return err
}

func (l *Logger) appendStructured(domain, requestName string, rec Record) error {
	dir := l.site.ReqLogPath
	if dir == "" {
		dir = filepath.Join(l.site.RootPath, l.site.LogDirName, domain)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, requestName+".log.yml")
	data, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append([]byte("---\n"), data...))
	return err
}

func (l *Logger) postMiddleware(rec Record) {
	if l.site.Middleware == nil || l.site.Middleware.URL == "" {
		return
	}
	body, err := json.Marshal(rec)
	if err != nil {
		log.Warn("middleware marshal failed: " + err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.site.Middleware.URL, bytes.NewReader(body))
	if err != nil {
		log.Warn("middleware request build failed: " + err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range l.site.Middleware.Header {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		log.Warn("middleware POST failed: " + err.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Warn(fmt.Sprintf("middleware POST returned status %d", resp.StatusCode))
	}
}
