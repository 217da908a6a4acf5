package crosssite

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeController is a minimal stand-in for the templated flow
// controller's REST surface, just enough to drive HTTPClient.SendFile
// through its full processor/remote-group/connection sequence.
type fakeController struct {
	mu sync.Mutex

	targetURI          string
	connectionDest     string
	processorProps     map[string]string
	processorState     string
	transmissionState  string
	flowFilesSent      int
	deletedProcessor   bool
	deletedRemoteGroup bool
}

func newFakeController() *http.ServeMux {
	f := &fakeController{processorProps: map[string]string{}}
	mux := http.NewServeMux()

	mux.HandleFunc("/process-groups/pg1/template-instance", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"flow": map[string]interface{}{
				"processors": []map[string]interface{}{
					{"id": "proc1", "name": "GetResults"},
				},
				"remoteProcessGroups": []map[string]interface{}{{"id": "rpg1"}},
				"connections":         []map[string]interface{}{{"id": "conn1"}},
			},
		})
	})

	mux.HandleFunc("/remote-process-groups/rpg1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPut {
			var body struct {
				Component struct {
					TargetURI string `json:"targetUri"`
				} `json:"component"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.targetURI = body.Component.TargetURI
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, map[string]interface{}{
			"component": map[string]interface{}{"targetUri": f.targetURI},
		})
	})

	mux.HandleFunc("/connections/conn1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPut {
			var body struct {
				Component struct {
					Destination struct {
						ID string `json:"id"`
					} `json:"destination"`
				} `json:"component"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.connectionDest = body.Component.Destination.ID
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, map[string]interface{}{
			"component": map[string]interface{}{
				"destination": map[string]interface{}{"id": f.connectionDest},
			},
		})
	})

	mux.HandleFunc("/processors/proc1/run-status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			State string `json:"state"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.processorState = body.State
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/remote-process-groups/rpg1/run-status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			State string `json:"state"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.State == "TRANSMITTING" {
			f.transmissionState = "Transmitting"
			f.flowFilesSent = 1
		} else {
			f.transmissionState = "Stopped"
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/remote-process-groups/rpg1/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, map[string]interface{}{
			"status": map[string]interface{}{
				"aggregateSnapshot": map[string]interface{}{
					"flowFilesSent": f.flowFilesSent,
				},
			},
		})
	})

	mux.HandleFunc("/processors/proc1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPut {
			var body struct {
				Component struct {
					Config struct {
						Properties map[string]string `json:"properties"`
					} `json:"config"`
				} `json:"component"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.processorProps = body.Component.Config.Properties
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method == http.MethodDelete {
			f.deletedProcessor = true
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, map[string]interface{}{
			"component": map[string]interface{}{
				"state":  f.processorState,
				"config": map[string]interface{}{"properties": f.processorProps},
			},
		})
	})

	mux.HandleFunc("/remote-process-groups/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.deletedRemoteGroup = true
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPClientSendFileAndCleanup(t *testing.T) {
	server := httptest.NewServer(newFakeController())
	defer server.Close()

	client := NewHTTPClient(Config{
		Host:           server.URL,
		ProcessGroupID: "pg1",
		TemplateID:     "tmpl1",
		PollInterval:   5 * time.Millisecond,
		PollTimeout:    2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.SendFile(ctx, "https://remote.example.org", "port-1", "/tmp/artifact.zip")
	require.NoError(t, err)

	err = client.Cleanup(ctx)
	require.NoError(t, err)
}

func TestHTTPClientSendFilePropagatesHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/process-groups/pg1/template-instance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewHTTPClient(Config{
		Host:           server.URL,
		ProcessGroupID: "pg1",
		TemplateID:     "tmpl1",
		PollInterval:   5 * time.Millisecond,
		PollTimeout:    200 * time.Millisecond,
	})

	err := client.SendFile(context.Background(), "https://remote.example.org", "port-1", "/tmp/artifact.zip")
	assert.Error(t, err)
}
