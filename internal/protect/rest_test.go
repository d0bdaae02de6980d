package protect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// recordingServer captures every request hitting the mock controller.
type recordingServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method string
	Path   string
}

// newRecordingServer wires a mock controller that records requests and
// serves canned responses per path. Paths without a response get a 204.
func newRecordingServer(t *testing.T, responses map[string]string) *recordingServer {
	t.Helper()

	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.requests = append(rs.requests, recordedRequest{Method: r.Method, Path: r.URL.EscapedPath()})
		rs.mu.Unlock()

		if body, ok := responses[r.URL.Path]; ok {
			w.Write([]byte(body))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return rs
}

func (rs *recordingServer) Requests() []recordedRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]recordedRequest(nil), rs.requests...)
}

func newTestREST(t *testing.T, server *recordingServer) *restClient {
	t.Helper()

	transport, err := NewTransport(Credential{Host: server.URL, APIToken: "token"}, 2*time.Second)
	if err != nil {
		t.Fatalf("NewTransport() error: %v", err)
	}
	return newRESTClient(transport)
}

func TestGetMetaInfo(t *testing.T) {
	server := newRecordingServer(t, map[string]string{
		"/proxy/protect/integration/v1/meta/info": `{"applicationVersion":"6.0.21"}`,
	})
	defer server.Close()

	rest := newTestREST(t, server)

	info, err := rest.GetMetaInfo(context.Background())
	if err != nil {
		t.Fatalf("GetMetaInfo() error: %v", err)
	}

	if got := info["applicationVersion"]; got != "6.0.21" {
		t.Errorf("applicationVersion = %v, want 6.0.21", got)
	}
	if got := info["host"]; got != server.URL {
		t.Errorf("host = %v, want %v (injected)", got, server.URL)
	}
}

func TestGetBootstrap(t *testing.T) {
	server := newRecordingServer(t, map[string]string{
		"/proxy/protect/api/bootstrap": `{
			"cameras": [{"id": "cam1", "name": "Front Door"}, {"id": "cam2"}],
			"sensors": [{"id": "sense1"}],
			"nvr": {"id": "nvr1", "name": "Dream Machine", "storageStats": {"used": 100, "total": 400, "available": 300}}
		}`,
	})
	defer server.Close()

	rest := newTestREST(t, server)

	b, err := rest.GetBootstrap(context.Background())
	if err != nil {
		t.Fatalf("GetBootstrap() error: %v", err)
	}

	if len(b.Cameras) != 2 {
		t.Errorf("Cameras = %d, want 2", len(b.Cameras))
	}
	if len(b.Sensors) != 1 {
		t.Errorf("Sensors = %d, want 1", len(b.Sensors))
	}
	if b.NVR == nil {
		t.Fatal("NVR = nil, want payload")
	}
	if got := b.NVR["host"]; got != server.URL {
		t.Errorf("NVR host = %v, want %v (injected)", got, server.URL)
	}
}

func TestGetBootstrapWithoutNVR(t *testing.T) {
	server := newRecordingServer(t, map[string]string{
		"/proxy/protect/api/bootstrap": `{"cameras": []}`,
	})
	defer server.Close()

	rest := newTestREST(t, server)

	b, err := rest.GetBootstrap(context.Background())
	if err != nil {
		t.Fatalf("GetBootstrap() error: %v", err)
	}
	if b.NVR != nil {
		t.Errorf("NVR = %v, want nil", b.NVR)
	}
}

func TestGetNVRInjectsHost(t *testing.T) {
	server := newRecordingServer(t, map[string]string{
		"/proxy/protect/integration/v1/nvr": `{"id": "nvr1", "doorbellSettings": {"defaultMessage": "WELCOME"}}`,
	})
	defer server.Close()

	rest := newTestREST(t, server)

	nvr, err := rest.GetNVR(context.Background())
	if err != nil {
		t.Fatalf("GetNVR() error: %v", err)
	}
	if got := nvr["host"]; got != server.URL {
		t.Errorf("host = %v, want %v (injected)", got, server.URL)
	}
}

func TestListDevices(t *testing.T) {
	server := newRecordingServer(t, map[string]string{
		"/proxy/protect/integration/v1/lights":    `[{"id": "light1"}, {"id": "light2"}]`,
		"/proxy/protect/integration/v1/chimes":    `[]`,
		"/proxy/protect/integration/v1/viewers":   `[{"id": "view1"}]`,
		"/proxy/protect/integration/v1/liveviews": `[{"id": "lv1"}]`,
	})
	defer server.Close()

	rest := newTestREST(t, server)
	ctx := context.Background()

	lights, err := rest.ListLights(ctx)
	if err != nil {
		t.Fatalf("ListLights() error: %v", err)
	}
	if len(lights) != 2 {
		t.Errorf("ListLights() = %d items, want 2", len(lights))
	}

	chimes, err := rest.ListChimes(ctx)
	if err != nil {
		t.Fatalf("ListChimes() error: %v", err)
	}
	if len(chimes) != 0 {
		t.Errorf("ListChimes() = %d items, want 0", len(chimes))
	}

	viewers, err := rest.ListViewers(ctx)
	if err != nil {
		t.Fatalf("ListViewers() error: %v", err)
	}
	if len(viewers) != 1 {
		t.Errorf("ListViewers() = %d items, want 1", len(viewers))
	}

	liveviews, err := rest.ListLiveviews(ctx)
	if err != nil {
		t.Fatalf("ListLiveviews() error: %v", err)
	}
	if len(liveviews) != 1 {
		t.Errorf("ListLiveviews() = %d items, want 1", len(liveviews))
	}
}

func TestCommandValidationBeforeNetwork(t *testing.T) {
	server := newRecordingServer(t, nil)
	defer server.Close()

	rest := newTestREST(t, server)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "start patrol empty camera",
			call: func() error { return rest.StartPatrol(ctx, "", 0) },
		},
		{
			name: "start patrol slot below range",
			call: func() error { return rest.StartPatrol(ctx, "cam1", -1) },
		},
		{
			name: "start patrol slot above range",
			call: func() error { return rest.StartPatrol(ctx, "cam1", 5) },
		},
		{
			name: "stop patrol empty camera",
			call: func() error { return rest.StopPatrol(ctx, "") },
		},
		{
			name: "goto preset below home",
			call: func() error { return rest.GotoPreset(ctx, "cam1", -2) },
		},
		{
			name: "goto preset empty camera",
			call: func() error { return rest.GotoPreset(ctx, "", 1) },
		},
		{
			name: "trigger alarm empty id",
			call: func() error { return rest.TriggerAlarm(ctx, "") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}

	// A rejected command must never produce a request.
	if got := server.Requests(); len(got) != 0 {
		t.Errorf("controller saw %d requests, want 0: %v", len(got), got)
	}
}

func TestCommandPaths(t *testing.T) {
	tests := []struct {
		name     string
		call     func(context.Context, *restClient) error
		wantPath string
	}{
		{
			name:     "start patrol",
			call:     func(ctx context.Context, r *restClient) error { return r.StartPatrol(ctx, "cam1", 2) },
			wantPath: "/proxy/protect/integration/v1/cameras/cam1/ptz/patrol/start/2",
		},
		{
			name:     "stop patrol",
			call:     func(ctx context.Context, r *restClient) error { return r.StopPatrol(ctx, "cam1") },
			wantPath: "/proxy/protect/integration/v1/cameras/cam1/ptz/patrol/stop",
		},
		{
			name:     "goto home preset",
			call:     func(ctx context.Context, r *restClient) error { return r.GotoPreset(ctx, "cam1", -1) },
			wantPath: "/proxy/protect/integration/v1/cameras/cam1/ptz/goto/-1",
		},
		{
			name:     "goto numbered preset",
			call:     func(ctx context.Context, r *restClient) error { return r.GotoPreset(ctx, "cam1", 3) },
			wantPath: "/proxy/protect/integration/v1/cameras/cam1/ptz/goto/3",
		},
		{
			name:     "trigger alarm",
			call:     func(ctx context.Context, r *restClient) error { return r.TriggerAlarm(ctx, "doorbell-pressed") },
			wantPath: "/proxy/protect/integration/v1/alarm-manager/webhook/doorbell-pressed",
		},
		{
			name:     "device id is path escaped",
			call:     func(ctx context.Context, r *restClient) error { return r.StopPatrol(ctx, "cam/../1") },
			wantPath: "/proxy/protect/integration/v1/cameras/cam%2F..%2F1/ptz/patrol/stop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newRecordingServer(t, nil)
			defer server.Close()

			rest := newTestREST(t, server)
			if err := tt.call(context.Background(), rest); err != nil {
				t.Fatalf("command error: %v", err)
			}

			reqs := server.Requests()
			if len(reqs) != 1 {
				t.Fatalf("controller saw %d requests, want 1", len(reqs))
			}
			if reqs[0].Method != http.MethodPost {
				t.Errorf("method = %s, want POST", reqs[0].Method)
			}
			if reqs[0].Path != tt.wantPath {
				t.Errorf("path = %q, want %q", reqs[0].Path, tt.wantPath)
			}
		})
	}
}

func TestCommandControllerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "camera not found"}`))
	}))
	defer server.Close()

	transport, err := NewTransport(Credential{Host: server.URL, APIToken: "token"}, time.Second)
	if err != nil {
		t.Fatalf("NewTransport() error: %v", err)
	}
	rest := newRESTClient(transport)

	err = rest.StartPatrol(context.Background(), "ghost", 0)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("StartPatrol() = %v, want ErrProtocol", err)
	}
}

func TestCameraSnapshotURL(t *testing.T) {
	transport, err := NewTransport(Credential{Host: "https://192.168.1.1", APIToken: "token"}, time.Second)
	if err != nil {
		t.Fatalf("NewTransport() error: %v", err)
	}
	rest := newRESTClient(transport)

	want := "https://192.168.1.1/proxy/protect/api/cameras/cam1/snapshot"
	if got := rest.CameraSnapshotURL("cam1"); got != want {
		t.Errorf("CameraSnapshotURL() = %q, want %q", got, want)
	}
}
