package protect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Controller endpoint paths. Device listings, PTZ and alarm control live
// on the integration v1 surface; the full bootstrap listing only exists
// on the legacy api surface.
const (
	pathMetaInfo  = "/proxy/protect/integration/v1/meta/info"
	pathBootstrap = "/proxy/protect/api/bootstrap"
	pathNVR       = "/proxy/protect/integration/v1/nvr"
	pathLights    = "/proxy/protect/integration/v1/lights"
	pathChimes    = "/proxy/protect/integration/v1/chimes"
	pathViewers   = "/proxy/protect/integration/v1/viewers"
	pathLiveviews = "/proxy/protect/integration/v1/liveviews"
)

// PTZ slot bounds. Patrols occupy slots 0 through 4; preset slot -1 is
// the camera's home position and presets have no client-side upper bound.
const (
	maxPatrolSlot  = 4
	homePresetSlot = -1
)

// restClient issues typed REST operations through the transport. Every
// command validates its arguments before any network I/O; commands are
// fire-and-confirm, meaning a 2xx tells us the controller accepted the
// request, not that the physical action completed.
type restClient struct {
	transport *Transport
}

func newRESTClient(t *Transport) *restClient {
	return &restClient{transport: t}
}

// GetMetaInfo probes the integration API and returns application
// metadata. Doubles as the implicit auth check on startup. The
// configured host is injected into the result since the controller does
// not echo it.
func (r *restClient) GetMetaInfo(ctx context.Context) (map[string]any, error) {
	data, err := r.transport.Request(ctx, http.MethodGet, pathMetaInfo, nil)
	if err != nil {
		return nil, err
	}

	info := make(map[string]any)
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: decode meta info: %v", ErrProtocol, err)
	}
	info["host"] = r.transport.Host()
	return info, nil
}

// GetBootstrap fetches the legacy full-state listing of cameras, sensors
// and the NVR. The configured host is injected into the nvr payload
// since the controller does not return it.
func (r *restClient) GetBootstrap(ctx context.Context) (*Bootstrap, error) {
	data, err := r.transport.Request(ctx, http.MethodGet, pathBootstrap, nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Cameras []map[string]any `json:"cameras"`
		Sensors []map[string]any `json:"sensors"`
		NVR     map[string]any   `json:"nvr"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode bootstrap: %v", ErrProtocol, err)
	}

	b := &Bootstrap{
		Cameras: raw.Cameras,
		Sensors: raw.Sensors,
		NVR:     raw.NVR,
	}
	if b.NVR != nil {
		b.NVR["host"] = r.transport.Host()
	}
	return b, nil
}

// GetNVR fetches detailed NVR data from the integration API, which
// carries blocks the legacy bootstrap omits (doorbell settings among
// them). The configured host is injected into the result.
func (r *restClient) GetNVR(ctx context.Context) (map[string]any, error) {
	data, err := r.transport.Request(ctx, http.MethodGet, pathNVR, nil)
	if err != nil {
		return nil, err
	}

	nvr := make(map[string]any)
	if err := json.Unmarshal(data, &nvr); err != nil {
		return nil, fmt.Errorf("%w: decode nvr: %v", ErrProtocol, err)
	}
	nvr["host"] = r.transport.Host()
	return nvr, nil
}

// ListLights fetches all lights from the integration API.
func (r *restClient) ListLights(ctx context.Context) ([]map[string]any, error) {
	return r.listDevices(ctx, pathLights)
}

// ListChimes fetches all chimes from the integration API.
func (r *restClient) ListChimes(ctx context.Context) ([]map[string]any, error) {
	return r.listDevices(ctx, pathChimes)
}

// ListViewers fetches all viewers from the integration API.
func (r *restClient) ListViewers(ctx context.Context) ([]map[string]any, error) {
	return r.listDevices(ctx, pathViewers)
}

// ListLiveviews fetches all liveviews from the integration API.
func (r *restClient) ListLiveviews(ctx context.Context) ([]map[string]any, error) {
	return r.listDevices(ctx, pathLiveviews)
}

func (r *restClient) listDevices(ctx context.Context, path string) ([]map[string]any, error) {
	data, err := r.transport.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: decode listing %s: %v", ErrProtocol, path, err)
	}
	return items, nil
}

// StartPatrol starts a scripted PTZ patrol on a camera. The slot must be
// 0 through 4.
func (r *restClient) StartPatrol(ctx context.Context, cameraID string, slot int) error {
	if err := validateDeviceID(cameraID); err != nil {
		return err
	}
	if slot < 0 || slot > maxPatrolSlot {
		return fmt.Errorf("%w: patrol slot must be between 0 and %d, got %d", ErrValidation, maxPatrolSlot, slot)
	}

	path := fmt.Sprintf("/proxy/protect/integration/v1/cameras/%s/ptz/patrol/start/%d", url.PathEscape(cameraID), slot)
	_, err := r.transport.Request(ctx, http.MethodPost, path, nil)
	return err
}

// StopPatrol stops the active PTZ patrol on a camera.
func (r *restClient) StopPatrol(ctx context.Context, cameraID string) error {
	if err := validateDeviceID(cameraID); err != nil {
		return err
	}

	path := fmt.Sprintf("/proxy/protect/integration/v1/cameras/%s/ptz/patrol/stop", url.PathEscape(cameraID))
	_, err := r.transport.Request(ctx, http.MethodPost, path, nil)
	return err
}

// GotoPreset moves a PTZ camera to a saved preset position. Slot -1 is
// the home position; the controller owns the upper bound.
func (r *restClient) GotoPreset(ctx context.Context, cameraID string, slot int) error {
	if err := validateDeviceID(cameraID); err != nil {
		return err
	}
	if slot < homePresetSlot {
		return fmt.Errorf("%w: preset slot must be %d (home) or higher, got %d", ErrValidation, homePresetSlot, slot)
	}

	path := fmt.Sprintf("/proxy/protect/integration/v1/cameras/%s/ptz/goto/%d", url.PathEscape(cameraID), slot)
	_, err := r.transport.Request(ctx, http.MethodPost, path, nil)
	return err
}

// TriggerAlarm fires the alarm-manager webhook for a trigger id. The id
// is free-form; alarms configured with the same id on the controller are
// activated.
func (r *restClient) TriggerAlarm(ctx context.Context, triggerID string) error {
	if triggerID == "" {
		return fmt.Errorf("%w: trigger id is required", ErrValidation)
	}

	path := "/proxy/protect/integration/v1/alarm-manager/webhook/" + url.PathEscape(triggerID)
	_, err := r.transport.Request(ctx, http.MethodPost, path, nil)
	return err
}

// CameraSnapshotURL returns the direct snapshot URL for a camera. The
// fetch is left to the caller; the endpoint serves a JPEG, not JSON.
func (r *restClient) CameraSnapshotURL(cameraID string) string {
	return r.transport.Host() + "/proxy/protect/api/cameras/" + url.PathEscape(cameraID) + "/snapshot"
}

func validateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	return nil
}
