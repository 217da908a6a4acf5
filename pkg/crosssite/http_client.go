package crosssite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shambakey1/vifinode/pkg/log"
)

// Config describes one domain's transport controller endpoint.
type Config struct {
	Host           string // e.g. https://controller.example.org:8443/nifi-api
	ProcessGroupID string
	TemplateID     string // template name for the transfer-results flow
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// HTTPClient implements Client as a REST caller against a templated
// flow controller, following the original node's processor
// manipulation sequence: instantiate the transfer-results template,
// resolve the get-results processor / remote process group /
// connection, point them at the staged file and the target, start the
// source processor, enable transmission, poll until at least one flow
// file has been sent, then tear everything back down.
type HTTPClient struct {
	cfg    Config
	http   *http.Client
	entity flowEntity // ephemeral state created by the last SendFile, for Cleanup
}

type flowEntity struct {
	processorID   string
	remoteGroupID string
	connectionID  string
}

// NewHTTPClient builds a controller client for one domain's endpoint.
func NewHTTPClient(cfg Config) *HTTPClient {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = 60 * time.Second
	}
	return &HTTPClient{cfg: cfg, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *HTTPClient) SendFile(ctx context.Context, targetURI, targetRemoteInputPort, zipPath string) error {
	instance, err := c.instantiateTemplate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate transfer template: %w", err)
	}
	c.entity.processorID = instance.getResultsProcessorID
	c.entity.remoteGroupID = instance.remoteProcessGroupID
	c.entity.connectionID = instance.connectionID

	if err := c.setRemoteGroupTarget(ctx, targetURI); err != nil {
		return fmt.Errorf("set remote group target: %w", err)
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.remoteGroupReflects(ctx, targetURI) }); err != nil {
		return fmt.Errorf("wait for remote group target: %w", err)
	}

	if err := c.routeConnectionToPort(ctx, targetRemoteInputPort); err != nil {
		return fmt.Errorf("route connection to remote input port: %w", err)
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.connectionReflects(ctx, targetRemoteInputPort) }); err != nil {
		return fmt.Errorf("wait for connection routing: %w", err)
	}

	if err := c.configureSourceProcessor(ctx, zipPath); err != nil {
		return fmt.Errorf("configure source processor: %w", err)
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.processorReflectsConfig(ctx, zipPath) }); err != nil {
		return fmt.Errorf("wait for processor config: %w", err)
	}

	if err := c.startProcessor(ctx, c.entity.processorID); err != nil {
		return fmt.Errorf("start source processor: %w", err)
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.processorRunning(ctx, c.entity.processorID) }); err != nil {
		return fmt.Errorf("wait for processor start: %w", err)
	}

	if err := c.setTransmission(ctx, true); err != nil {
		return fmt.Errorf("enable remote group transmission: %w", err)
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.transmissionState(ctx, true) }); err != nil {
		return fmt.Errorf("wait for transmission enabled: %w", err)
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.flowFilesSent(ctx) }); err != nil {
		return fmt.Errorf("wait for flow file delivery: %w", err)
	}

	if err := c.setTransmission(ctx, false); err != nil {
		log.Warn("disable remote group transmission after delivery: " + err.Error())
	}
	if err := c.pollUntil(ctx, func() (bool, error) { return c.transmissionState(ctx, false) }); err != nil {
		log.Warn("wait for transmission disabled: " + err.Error())
	}
	if err := c.stopProcessor(ctx, c.entity.processorID); err != nil {
		log.Warn("stop source processor: " + err.Error())
	}

	return nil
}

// Cleanup deletes the ephemeral processor, connection, and remote
// process group created by the last SendFile.
func (c *HTTPClient) Cleanup(ctx context.Context) error {
	var errs []error
	if c.entity.connectionID != "" {
		if err := c.deleteEntity(ctx, "connections", c.entity.connectionID); err != nil {
			errs = append(errs, err)
		}
	}
	if c.entity.processorID != "" {
		if err := c.deleteEntity(ctx, "processors", c.entity.processorID); err != nil {
			errs = append(errs, err)
		}
	}
	if c.entity.remoteGroupID != "" {
		if err := c.deleteEntity(ctx, "remote-process-groups", c.entity.remoteGroupID); err != nil {
			errs = append(errs, err)
		}
	}
	c.entity = flowEntity{}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

type templateInstance struct {
	getResultsProcessorID string
	remoteProcessGroupID  string
	connectionID          string
}

func (c *HTTPClient) instantiateTemplate(ctx context.Context) (*templateInstance, error) {
	var resp struct {
		Flow struct {
			Processors []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"processors"`
			RemoteProcessGroups []struct {
				ID string `json:"id"`
			} `json:"remoteProcessGroups"`
			Connections []struct {
				ID string `json:"id"`
			} `json:"connections"`
		} `json:"flow"`
	}

	body := map[string]interface{}{"templateId": c.cfg.TemplateID}
	path := fmt.Sprintf("/process-groups/%s/template-instance", c.cfg.ProcessGroupID)
	if err := c.post(ctx, path, body, &resp); err != nil {
		return nil, err
	}

	instance := &templateInstance{}
	for _, p := range resp.Flow.Processors {
		if p.Name == "GetResults" {
			instance.getResultsProcessorID = p.ID
		}
	}
	if len(resp.Flow.RemoteProcessGroups) > 0 {
		instance.remoteProcessGroupID = resp.Flow.RemoteProcessGroups[0].ID
	}
	if len(resp.Flow.Connections) > 0 {
		instance.connectionID = resp.Flow.Connections[0].ID
	}
	return instance, nil
}

func (c *HTTPClient) setRemoteGroupTarget(ctx context.Context, targetURI string) error {
	body := map[string]interface{}{
		"component": map[string]interface{}{
			"id":        c.entity.remoteGroupID,
			"targetUri": targetURI,
		},
	}
	path := fmt.Sprintf("/remote-process-groups/%s", c.entity.remoteGroupID)
	return c.put(ctx, path, body, nil)
}

func (c *HTTPClient) remoteGroupReflects(ctx context.Context, targetURI string) (bool, error) {
	var resp struct {
		Component struct {
			TargetURI string `json:"targetUri"`
		} `json:"component"`
	}
	path := fmt.Sprintf("/remote-process-groups/%s", c.entity.remoteGroupID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Component.TargetURI == targetURI, nil
}

func (c *HTTPClient) routeConnectionToPort(ctx context.Context, remoteInputPort string) error {
	body := map[string]interface{}{
		"component": map[string]interface{}{
			"id": c.entity.connectionID,
			"destination": map[string]interface{}{
				"id":   remoteInputPort,
				"type": "REMOTE_INPUT_PORT",
			},
		},
	}
	path := fmt.Sprintf("/connections/%s", c.entity.connectionID)
	return c.put(ctx, path, body, nil)
}

func (c *HTTPClient) connectionReflects(ctx context.Context, remoteInputPort string) (bool, error) {
	var resp struct {
		Component struct {
			Destination struct {
				ID string `json:"id"`
			} `json:"destination"`
		} `json:"component"`
	}
	path := fmt.Sprintf("/connections/%s", c.entity.connectionID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Component.Destination.ID == remoteInputPort, nil
}

func (c *HTTPClient) configureSourceProcessor(ctx context.Context, zipPath string) error {
	body := map[string]interface{}{
		"component": map[string]interface{}{
			"id": c.entity.processorID,
			"config": map[string]interface{}{
				"properties": map[string]interface{}{
					"Input Directory": zipPath,
					"File Filter":     "^.*$",
				},
			},
		},
	}
	path := fmt.Sprintf("/processors/%s", c.entity.processorID)
	return c.put(ctx, path, body, nil)
}

func (c *HTTPClient) processorReflectsConfig(ctx context.Context, zipPath string) (bool, error) {
	var resp struct {
		Component struct {
			Config struct {
				Properties map[string]string `json:"properties"`
			} `json:"config"`
		} `json:"component"`
	}
	path := fmt.Sprintf("/processors/%s", c.entity.processorID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Component.Config.Properties["Input Directory"] == zipPath, nil
}

func (c *HTTPClient) startProcessor(ctx context.Context, id string) error {
	return c.setProcessorState(ctx, id, "RUNNING")
}

func (c *HTTPClient) stopProcessor(ctx context.Context, id string) error {
	return c.setProcessorState(ctx, id, "STOPPED")
}

func (c *HTTPClient) setProcessorState(ctx context.Context, id, state string) error {
	body := map[string]interface{}{
		"id":    id,
		"state": state,
	}
	path := fmt.Sprintf("/processors/%s/run-status", id)
	return c.put(ctx, path, body, nil)
}

func (c *HTTPClient) processorRunning(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Component struct {
			State string `json:"state"`
		} `json:"component"`
	}
	path := fmt.Sprintf("/processors/%s", id)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Component.State == "RUNNING", nil
}

func (c *HTTPClient) setTransmission(ctx context.Context, enabled bool) error {
	state := "STOPPED"
	if enabled {
		state = "TRANSMITTING"
	}
	body := map[string]interface{}{
		"id":    c.entity.remoteGroupID,
		"state": state,
	}
	path := fmt.Sprintf("/remote-process-groups/%s/run-status", c.entity.remoteGroupID)
	return c.put(ctx, path, body, nil)
}

func (c *HTTPClient) transmissionState(ctx context.Context, enabled bool) (bool, error) {
	var resp struct {
		Component struct {
			TransmissionStatus string `json:"transmissionStatus"`
		} `json:"component"`
	}
	path := fmt.Sprintf("/remote-process-groups/%s", c.entity.remoteGroupID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	if enabled {
		return resp.Component.TransmissionStatus == "Transmitting", nil
	}
	return resp.Component.TransmissionStatus != "Transmitting", nil
}

func (c *HTTPClient) flowFilesSent(ctx context.Context) (bool, error) {
	var resp struct {
		Status struct {
			AggregateSnapshot struct {
				FlowFilesSent int `json:"flowFilesSent"`
			} `json:"aggregateSnapshot"`
		} `json:"status"`
	}
	path := fmt.Sprintf("/remote-process-groups/%s/status", c.entity.remoteGroupID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Status.AggregateSnapshot.FlowFilesSent > 0, nil
}

func (c *HTTPClient) deleteEntity(ctx context.Context, kind, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.Host+"/"+kind+"/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete %s/%s: status %d", kind, id, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) pollUntil(ctx context.Context, check func() (bool, error)) error {
	deadline := time.Now().Add(c.cfg.PollTimeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for condition")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Host+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	return c.doWithBody(ctx, http.MethodPost, path, body, out)
}

func (c *HTTPClient) put(ctx context.Context, path string, body, out interface{}) error {
	return c.doWithBody(ctx, http.MethodPut, path, body, out)
}

func (c *HTTPClient) doWithBody(ctx context.Context, method, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Host+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
